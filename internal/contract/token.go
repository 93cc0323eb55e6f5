package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20ABI is the fungible token subset used for entry fees and payouts.
const ERC20ABI = `[
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "allowance",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "transfer",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "transferFrom",
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "approve",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	}
]`

// ERC721ABI is the credential NFT subset.
const ERC721ABI = `[
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

// ERC20Contract binds a fungible token.
type ERC20Contract struct {
	*bound
}

// NewERC20Contract creates a token binding.
func NewERC20Contract(address common.Address, caller Caller) (*ERC20Contract, error) {
	b, err := newBound(address, ERC20ABI, caller)
	if err != nil {
		return nil, err
	}
	return &ERC20Contract{bound: b}, nil
}

// BalanceOf returns the token balance of account.
func (c *ERC20Contract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// Allowance returns the amount spender may pull from owner.
func (c *ERC20Contract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}

// PackTransfer packs transfer(to, amount).
func (c *ERC20Contract) PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return c.abi.Pack("transfer", to, amount)
}

// PackTransferFrom packs transferFrom(from, to, amount).
func (c *ERC20Contract) PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	return c.abi.Pack("transferFrom", from, to, amount)
}

// PackApprove packs approve(spender, amount).
func (c *ERC20Contract) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return c.abi.Pack("approve", spender, amount)
}

// ERC721Contract binds a non-fungible token.
type ERC721Contract struct {
	*bound
}

// NewERC721Contract creates an NFT binding.
func NewERC721Contract(address common.Address, caller Caller) (*ERC721Contract, error) {
	b, err := newBound(address, ERC721ABI, caller)
	if err != nil {
		return nil, err
	}
	return &ERC721Contract{bound: b}, nil
}

// BalanceOf returns how many tokens owner holds.
func (c *ERC721Contract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigOut(out, 0)
}
