// Package contract provides ABI bindings for the external contracts the lottery reads from and writes to.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyResult is returned when a call returns no data (no code at the address).
var ErrEmptyResult = errors.New("contract call returned no data")

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// bound couples a parsed ABI with a deployed address.
type bound struct {
	address common.Address
	abi     abi.ABI
	caller  Caller
}

func newBound(address common.Address, abiJSON string, caller Caller) (*bound, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &bound{address: address, abi: parsed, caller: caller}, nil
}

// Address returns the contract address.
func (b *bound) Address() common.Address {
	return b.address
}

// call packs method args, executes eth_call and unpacks the outputs.
func (b *bound) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := b.caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &b.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrEmptyResult)
	}
	values, err := b.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// callValue payable eth_call, used to simulate state-changing calls.
func (b *bound) callValue(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := b.caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &b.address, Value: value, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrEmptyResult)
	}
	return b.abi.Unpack(method, out)
}

func bigOut(values []interface{}, i int) (*big.Int, error) {
	if i >= len(values) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := values[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T, not *big.Int", i, values[i])
	}
	return v, nil
}
