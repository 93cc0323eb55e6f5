package contract

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RouterABI is the swap router subset used to buy an exact amount of tokens with native currency.
const RouterABI = `[
	{
		"type": "function",
		"name": "exactOutputSingle",
		"inputs": [
			{
				"name": "params",
				"type": "tuple",
				"components": [
					{"name": "tokenIn", "type": "address"},
					{"name": "tokenOut", "type": "address"},
					{"name": "fee", "type": "uint24"},
					{"name": "recipient", "type": "address"},
					{"name": "deadline", "type": "uint256"},
					{"name": "amountOut", "type": "uint256"},
					{"name": "amountInMaximum", "type": "uint256"},
					{"name": "sqrtPriceLimitX96", "type": "uint160"}
				]
			}
		],
		"outputs": [{"name": "amountIn", "type": "uint256"}],
		"stateMutability": "payable"
	},
	{
		"type": "function",
		"name": "refundETH",
		"inputs": [],
		"outputs": [],
		"stateMutability": "payable"
	},
	{
		"type": "function",
		"name": "multicall",
		"inputs": [{"name": "data", "type": "bytes[]"}],
		"outputs": [{"name": "results", "type": "bytes[]"}],
		"stateMutability": "payable"
	}
]`

// ExactOutputSingleParams mirrors the router's params tuple.
type ExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// RouterContract binds the swap router.
type RouterContract struct {
	*bound
}

// NewRouterContract creates a router binding.
func NewRouterContract(address common.Address, caller Caller) (*RouterContract, error) {
	b, err := newBound(address, RouterABI, caller)
	if err != nil {
		return nil, err
	}
	return &RouterContract{bound: b}, nil
}

func (p *ExactOutputSingleParams) validate() error {
	if p.AmountOut == nil || p.AmountOut.Sign() <= 0 {
		return errors.New("amountOut must be positive")
	}
	if p.AmountInMaximum == nil || p.AmountInMaximum.Sign() <= 0 {
		return errors.New("amountInMaximum must be positive")
	}
	if p.SqrtPriceLimitX96 == nil {
		p.SqrtPriceLimitX96 = new(big.Int)
	}
	return nil
}

// QuoteExactOutputSingle simulates the swap and returns the native input it would consume.
func (c *RouterContract) QuoteExactOutputSingle(ctx context.Context, from common.Address, params ExactOutputSingleParams) (*big.Int, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	out, err := c.callValue(ctx, from, params.AmountInMaximum, "exactOutputSingle", params)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// PackSwapAndRefund packs multicall(exactOutputSingle, refundETH) so unused native returns to the sender.
func (c *RouterContract) PackSwapAndRefund(params ExactOutputSingleParams) ([]byte, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	swap, err := c.abi.Pack("exactOutputSingle", params)
	if err != nil {
		return nil, err
	}
	refund, err := c.abi.Pack("refundETH")
	if err != nil {
		return nil, err
	}
	return c.abi.Pack("multicall", [][]byte{swap, refund})
}
