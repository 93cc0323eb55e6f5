package contract

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeedABI is the Chainlink AggregatorV3 subset.
//
//	function decimals() external view returns (uint8);
//	function latestRoundData() external view returns (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound);
const FeedABI = `[
	{
		"type": "function",
		"name": "decimals",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "latestRoundData",
		"inputs": [],
		"outputs": [
			{"name": "roundId", "type": "uint80"},
			{"name": "answer", "type": "int256"},
			{"name": "startedAt", "type": "uint256"},
			{"name": "updatedAt", "type": "uint256"},
			{"name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view"
	}
]`

// FeedRound is one answer of a price feed.
type FeedRound struct {
	RoundID   *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// FeedContract reads a price feed aggregator.
type FeedContract struct {
	*bound
}

// NewFeedContract creates a feed binding.
func NewFeedContract(address common.Address, caller Caller) (*FeedContract, error) {
	b, err := newBound(address, FeedABI, caller)
	if err != nil {
		return nil, err
	}
	return &FeedContract{bound: b}, nil
}

// Decimals returns the answer precision.
func (c *FeedContract) Decimals(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, common.Address{}, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals output is %T", out[0])
	}
	return d, nil
}

// LatestRoundData returns the latest answer.
func (c *FeedContract) LatestRoundData(ctx context.Context) (*FeedRound, error) {
	out, err := c.call(ctx, common.Address{}, "latestRoundData")
	if err != nil {
		return nil, err
	}
	roundID, err := bigOut(out, 0)
	if err != nil {
		return nil, err
	}
	answer, err := bigOut(out, 1)
	if err != nil {
		return nil, err
	}
	updatedAt, err := bigOut(out, 3)
	if err != nil {
		return nil, err
	}
	return &FeedRound{
		RoundID:   roundID,
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0),
	}, nil
}
