package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRequestEventNotFound is returned when a receipt carries no RandomWordsRequested log.
var ErrRequestEventNotFound = errors.New("RandomWordsRequested event not found in receipt")

// ErrFulfillmentNotFound is returned when a receipt carries no RandomWordsFulfilled log for the request.
var ErrFulfillmentNotFound = errors.New("RandomWordsFulfilled event not found in receipt")

// VRFCoordinatorABI is the randomness coordinator subset.
//
//	function requestRandomWords(bytes32 keyHash, uint64 subId, uint16 minimumRequestConfirmations, uint32 callbackGasLimit, uint32 numWords) external returns (uint256 requestId);
//	function getSubscription(uint64 subId) external view returns (uint96 balance, uint64 reqCount, address owner, address[] consumers);
//	event RandomWordsFulfilled(uint256 indexed requestId, uint256 outputSeed, uint96 payment, bool success);
const VRFCoordinatorABI = `[
	{
		"type": "function",
		"name": "requestRandomWords",
		"inputs": [
			{"name": "keyHash", "type": "bytes32"},
			{"name": "subId", "type": "uint64"},
			{"name": "minimumRequestConfirmations", "type": "uint16"},
			{"name": "callbackGasLimit", "type": "uint32"},
			{"name": "numWords", "type": "uint32"}
		],
		"outputs": [{"name": "requestId", "type": "uint256"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getSubscription",
		"inputs": [{"name": "subId", "type": "uint64"}],
		"outputs": [
			{"name": "balance", "type": "uint96"},
			{"name": "reqCount", "type": "uint64"},
			{"name": "owner", "type": "address"},
			{"name": "consumers", "type": "address[]"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "RandomWordsRequested",
		"inputs": [
			{"name": "keyHash", "type": "bytes32", "indexed": true},
			{"name": "requestId", "type": "uint256", "indexed": false},
			{"name": "preSeed", "type": "uint256", "indexed": false},
			{"name": "subId", "type": "uint64", "indexed": true},
			{"name": "minimumRequestConfirmations", "type": "uint16", "indexed": false},
			{"name": "callbackGasLimit", "type": "uint32", "indexed": false},
			{"name": "numWords", "type": "uint32", "indexed": false},
			{"name": "sender", "type": "address", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "RandomWordsFulfilled",
		"inputs": [
			{"name": "requestId", "type": "uint256", "indexed": true},
			{"name": "outputSeed", "type": "uint256", "indexed": false},
			{"name": "payment", "type": "uint96", "indexed": false},
			{"name": "success", "type": "bool", "indexed": false}
		]
	}
]`

// RandomWordsRequest holds the parameters of a randomness request.
type RandomWordsRequest struct {
	KeyHash          common.Hash
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// VRFCoordinatorContract binds the randomness coordinator.
type VRFCoordinatorContract struct {
	*bound
}

// NewVRFCoordinatorContract creates a coordinator binding.
func NewVRFCoordinatorContract(address common.Address, caller Caller) (*VRFCoordinatorContract, error) {
	b, err := newBound(address, VRFCoordinatorABI, caller)
	if err != nil {
		return nil, err
	}
	return &VRFCoordinatorContract{bound: b}, nil
}

// PackRequestRandomWords packs requestRandomWords.
func (c *VRFCoordinatorContract) PackRequestRandomWords(req RandomWordsRequest) ([]byte, error) {
	if req.NumWords == 0 {
		return nil, errors.New("numWords must be positive")
	}
	return c.abi.Pack("requestRandomWords",
		[32]byte(req.KeyHash), req.SubscriptionID, req.Confirmations, req.CallbackGasLimit, req.NumWords)
}

// SubscriptionBalance returns the funding balance of a subscription.
func (c *VRFCoordinatorContract) SubscriptionBalance(ctx context.Context, subID uint64) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "getSubscription", subID)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// ParseRequestID extracts the request id emitted by this coordinator in a receipt.
func (c *VRFCoordinatorContract) ParseRequestID(receipt *types.Receipt) (*big.Int, error) {
	event := c.abi.Events["RandomWordsRequested"]
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack RandomWordsRequested: %w", err)
		}
		return bigOut(values, 0)
	}
	return nil, ErrRequestEventNotFound
}

// Fulfillment is a decoded RandomWordsFulfilled log.
type Fulfillment struct {
	RequestID  *big.Int
	OutputSeed *big.Int
	Payment    *big.Int
	Success    bool
}

// ParseFulfillment extracts the RandomWordsFulfilled log for requestID emitted by this coordinator.
func (c *VRFCoordinatorContract) ParseFulfillment(receipt *types.Receipt, requestID *big.Int) (*Fulfillment, error) {
	event := c.abi.Events["RandomWordsFulfilled"]
	topic := common.BigToHash(requestID)
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) < 2 || lg.Topics[0] != event.ID || lg.Topics[1] != topic {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack RandomWordsFulfilled: %w", err)
		}
		seed, err := bigOut(values, 0)
		if err != nil {
			return nil, err
		}
		payment, err := bigOut(values, 1)
		if err != nil {
			return nil, err
		}
		success, _ := values[2].(bool)
		return &Fulfillment{RequestID: requestID, OutputSeed: seed, Payment: payment, Success: success}, nil
	}
	return nil, ErrFulfillmentNotFound
}

// DeriveRandomWords expands a fulfillment seed into the words delivered to the consumer:
// word i is keccak256(abi.encode(seed, i)).
func DeriveRandomWords(seed *big.Int, n int) []*big.Int {
	words := make([]*big.Int, n)
	for i := range words {
		h := crypto.Keccak256(
			common.LeftPadBytes(seed.Bytes(), 32),
			common.LeftPadBytes(big.NewInt(int64(i)).Bytes(), 32),
		)
		words[i] = new(big.Int).SetBytes(h)
	}
	return words
}
