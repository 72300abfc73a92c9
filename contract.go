package datamarket

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract is a handle to a deployed contract.
type Contract struct {
	Name        string
	Address     common.Address
	ABI         abi.ABI
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64

	backend Backend
	caller  common.Address
}

// NewContract binds an address to an ABI for read-only calls.
func NewContract(name string, addr common.Address, parsed abi.ABI, backend Backend, caller common.Address) *Contract {
	return &Contract{
		Name:    name,
		Address: addr,
		ABI:     parsed,
		backend: backend,
		caller:  caller,
	}
}

// Call executes a read-only method at the latest block and returns the
// unpacked outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.caller,
		To:   &c.Address,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", c.Name, method, err)
	}

	out, err := c.ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// CallSingle calls a method with exactly one output and returns it.
func (c *Contract) CallSingle(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s.%s returned %d values, want 1", c.Name, method, len(out))
	}
	return out[0], nil
}
