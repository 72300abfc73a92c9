package datamarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of the node API the deployer reads from.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Tracer recovers execution traces for mined transactions.
type Tracer interface {
	TraceTransaction(ctx context.Context, txHash common.Hash) (*Trace, error)
}

// Trace is the part of a debug_traceTransaction result used for revert
// diagnostics. Ganache and geth's default struct logger both report
// returnValue; some nodes report an error object instead.
type Trace struct {
	Failed      bool        `json:"failed"`
	Gas         uint64      `json:"gas"`
	ReturnValue string      `json:"returnValue"`
	Error       *TraceError `json:"error,omitempty"`
}

// TraceError is the error object some nodes attach to a trace.
type TraceError struct {
	Message string `json:"message"`
}

// UnmarshalJSON accepts the error field as either an object or a string.
func (e *TraceError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	return nil
}

// NodeInfo describes the connected node.
type NodeInfo struct {
	ClientVersion string   `json:"client_version"`
	ChainID       *big.Int `json:"chain_id"`
	BlockNumber   uint64   `json:"block_number"`
}

// Node is a single connection to an EVM node, reused for every call of a
// run. It embeds *ethclient.Client for the standard eth_ namespace.
type Node struct {
	*ethclient.Client
	rpc *rpc.Client
}

// Dial connects to the node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Node, error) {
	c, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNodeUnreachable, rpcURL, err)
	}
	return NewNode(c), nil
}

// NewNode wraps an existing RPC client.
func NewNode(c *rpc.Client) *Node {
	return &Node{Client: ethclient.NewClient(c), rpc: c}
}

// RPC returns the underlying RPC client.
func (n *Node) RPC() *rpc.Client {
	return n.rpc
}

// Describe queries the client version, chain id and head block. It doubles
// as the connectivity check.
func (n *Node) Describe(ctx context.Context) (*NodeInfo, error) {
	chainID, err := n.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get chain id: %v", ErrNodeUnreachable, err)
	}
	block, err := n.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get block number: %v", ErrNodeUnreachable, err)
	}
	var version string
	if err := n.rpc.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		version = "unknown"
	}
	return &NodeInfo{ClientVersion: version, ChainID: chainID, BlockNumber: block}, nil
}

// Accounts returns the accounts managed by the node.
func (n *Node) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := n.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// TraceTransaction calls debug_traceTransaction for txHash.
func (n *Node) TraceTransaction(ctx context.Context, txHash common.Hash) (*Trace, error) {
	var trace Trace
	if err := n.rpc.CallContext(ctx, &trace, "debug_traceTransaction", txHash); err != nil {
		return nil, fmt.Errorf("debug_traceTransaction: %w", err)
	}
	return &trace, nil
}

// NodeSender returns a sender that delegates signing to the node for from.
// A zero from selects the node's first account.
func (n *Node) NodeSender(ctx context.Context, from common.Address) (*NodeSender, error) {
	if from == (common.Address{}) {
		accounts, err := n.Accounts(ctx)
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, ErrNoAccounts
		}
		from = accounts[0]
	}
	return &NodeSender{rpc: n.rpc, from: from}, nil
}
