package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolABI is the subset of the Uniswap V3 pool interface used for spot pricing.
//
//	function slot0() external view returns (uint160 sqrtPriceX96, int24 tick, uint16, uint16, uint16, uint8, bool);
//	function liquidity() external view returns (uint128);
//	function token0() external view returns (address);
const PoolABI = `[
	{
		"type": "function",
		"name": "slot0",
		"inputs": [],
		"outputs": [
			{"name": "sqrtPriceX96", "type": "uint160"},
			{"name": "tick", "type": "int24"},
			{"name": "observationIndex", "type": "uint16"},
			{"name": "observationCardinality", "type": "uint16"},
			{"name": "observationCardinalityNext", "type": "uint16"},
			{"name": "feeProtocol", "type": "uint8"},
			{"name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "liquidity",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint128"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "token0",
		"inputs": [],
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view"
	}
]`

// PoolContract reads price state from a concentrated-liquidity pool.
type PoolContract struct {
	*bound
}

// NewPoolContract creates a pool binding.
func NewPoolContract(address common.Address, caller Caller) (*PoolContract, error) {
	b, err := newBound(address, PoolABI, caller)
	if err != nil {
		return nil, err
	}
	return &PoolContract{bound: b}, nil
}

// SqrtPriceX96 returns the current sqrt price in Q64.96 form.
func (c *PoolContract) SqrtPriceX96(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "slot0")
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// Liquidity returns the in-range liquidity.
func (c *PoolContract) Liquidity(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "liquidity")
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// Token0 returns the pool's token0 address.
func (c *PoolContract) Token0(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, common.Address{}, "token0")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("token0 output is %T", out[0])
	}
	return addr, nil
}
