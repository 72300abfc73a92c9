package datamarket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testTokenABI = `[
		{"type":"constructor","inputs":[{"name":"initialSupply","type":"uint256"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`
	testOwnedABI = `[
		{"type":"constructor","inputs":[{"name":"token","type":"address"},{"name":"initialOwner","type":"address"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
	]`
	testBytecode = "0x608060405234801561001057600080fd5b50"
)

var (
	selTotalSupply = crypto.Keccak256([]byte("totalSupply()"))[:4]
	selBalanceOf   = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selOwner       = crypto.Keccak256([]byte("owner()"))[:4]
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// writeArtifacts writes descriptor and bytecode files for the named
// marketplace contracts into dir.
func writeArtifacts(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		abiJSON := testOwnedABI
		if name == ContractMyToken {
			abiJSON = testTokenABI
		}
		abiPath, binPath := ArtifactPaths(dir, name)
		require.NoError(t, os.WriteFile(abiPath, []byte(abiJSON), 0644))
		require.NoError(t, os.WriteFile(binPath, []byte(testBytecode+"\n"), 0644))
	}
}

func allArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeArtifacts(t, dir, ContractMyToken, ContractDataReview, ContractDataBundle)
	return dir
}

// fakeChain is an in-memory development node. Contracts are created at
// the CREATE address of the sender. A token's totalSupply and balanceOf
// echo the last constructor word; owner() returns the sender.
type fakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	from     common.Address
	balance  *big.Int
	estimate uint64

	estimateErr error
	sendErr     error
	revertOn    map[int]bool
	skipCode    bool
	neverMine   bool
	supplyDelta int64

	trace     *Trace
	traceErr  error
	replayErr error

	nonce    uint64
	sent     []ethereum.CallMsg
	receipts map[common.Hash]*types.Receipt
	polled   map[common.Hash]bool
	code     map[common.Address][]byte
	lastArg  map[common.Address][]byte
	traced   []common.Hash
	replays  []*big.Int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:  big.NewInt(1337),
		from:     common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"),
		balance:  new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
		estimate: 500_000,
		revertOn: map[int]bool{},
		receipts: map[common.Hash]*types.Receipt{},
		polled:   map[common.Hash]bool{},
		code:     map[common.Address][]byte{},
		lastArg:  map[common.Address][]byte{},
	}
}

func (f *fakeChain) Address() common.Address {
	return f.from
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimate, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}

	index := len(f.sent)
	f.sent = append(f.sent, msg)
	addr := crypto.CreateAddress(f.from, f.nonce)
	f.nonce++
	hash := crypto.Keccak256Hash(addr.Bytes(), msg.Data)

	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            hash,
		GasUsed:           f.estimate,
		CumulativeGasUsed: f.estimate,
		BlockNumber:       big.NewInt(int64(index + 1)),
		Logs:              []*types.Log{},
	}
	if f.revertOn[index] {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.ContractAddress = addr
		if !f.skipCode {
			f.code[addr] = []byte{0x60, 0x80, 0x60, 0x40}
		}
		if len(msg.Data) >= 32 {
			f.lastArg[addr] = common.CopyBytes(msg.Data[len(msg.Data)-32:])
		}
	}
	f.receipts[hash] = receipt
	return hash, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok || f.neverMine {
		return nil, ethereum.NotFound
	}
	// Mined on the second poll
	if !f.polled[hash] {
		f.polled[hash] = true
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.To == nil {
		f.replays = append(f.replays, blockNumber)
		return nil, f.replayErr
	}
	arg, ok := f.lastArg[*msg.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	switch {
	case bytes.HasPrefix(msg.Data, selTotalSupply):
		v := new(big.Int).SetBytes(arg)
		v.Add(v, big.NewInt(f.supplyDelta))
		return common.LeftPadBytes(v.Bytes(), 32), nil
	case bytes.HasPrefix(msg.Data, selBalanceOf):
		return common.LeftPadBytes(arg, 32), nil
	case bytes.HasPrefix(msg.Data, selOwner):
		return common.LeftPadBytes(f.from.Bytes(), 32), nil
	}
	return nil, fmt.Errorf("unknown selector %x", msg.Data[:4])
}

func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) TraceTransaction(ctx context.Context, hash common.Hash) (*Trace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traced = append(f.traced, hash)
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	if f.trace == nil {
		return &Trace{Failed: true}, nil
	}
	return f.trace, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// testDataError is a JSON-RPC error carrying revert data.
type testDataError struct {
	msg  string
	data interface{}
}

func (e *testDataError) Error() string          { return e.msg }
func (e *testDataError) ErrorData() interface{} { return e.data }

// encodeRevert builds an Error(string) revert payload.
func encodeRevert(reason string) []byte {
	body := make([]byte, 0, 100)
	body = append(body, common.LeftPadBytes([]byte{0x20}, 32)...)
	body = append(body, common.LeftPadBytes(big.NewInt(int64(len(reason))).Bytes(), 32)...)
	padded := make([]byte, (len(reason)+31)/32*32)
	copy(padded, reason)
	body = append(body, padded...)
	return append(append([]byte{}, errorStringSelector...), body...)
}

func testOutputPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), DefaultOutputFile)
}
