package datamarket

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ethAPI serves the eth_ namespace from a fakeChain.
type ethAPI struct {
	chain    *fakeChain
	accounts []common.Address
}

type rpcCallArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a rpcCallArgs) msg() ethereum.CallMsg {
	msg := ethereum.CallMsg{To: a.To, Data: a.Input}
	if a.From != nil {
		msg.From = *a.From
	}
	if a.Gas != nil {
		msg.Gas = uint64(*a.Gas)
	}
	if len(msg.Data) == 0 {
		msg.Data = a.Data
	}
	return msg
}

type rpcSendArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
}

func (api *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.chain.chainID)
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.chain.sentCount())
}

func (api *ethAPI) Accounts() []common.Address {
	return api.accounts
}

func (api *ethAPI) EstimateGas(ctx context.Context, args rpcCallArgs, block *string) (hexutil.Uint64, error) {
	gas, err := api.chain.EstimateGas(ctx, args.msg())
	return hexutil.Uint64(gas), err
}

func (api *ethAPI) SendTransaction(ctx context.Context, args rpcSendArgs) (common.Hash, error) {
	if args.From != api.chain.from {
		return common.Hash{}, errors.New("sender account not recognized")
	}
	return api.chain.SendTransaction(ctx, ethereum.CallMsg{
		From: args.From,
		To:   args.To,
		Gas:  uint64(args.Gas),
		Data: args.Data,
	})
}

func (api *ethAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := api.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return r, err
}

func (api *ethAPI) Call(ctx context.Context, args rpcCallArgs, block string) (hexutil.Bytes, error) {
	var number *big.Int
	if block != "latest" {
		n, err := hexutil.DecodeBig(block)
		if err != nil {
			return nil, err
		}
		number = n
	}
	return api.chain.CallContract(ctx, args.msg(), number)
}

func (api *ethAPI) GetCode(ctx context.Context, addr common.Address, block string) (hexutil.Bytes, error) {
	return api.chain.CodeAt(ctx, addr, nil)
}

func (api *ethAPI) GetBalance(ctx context.Context, addr common.Address, block string) (*hexutil.Big, error) {
	b, err := api.chain.BalanceAt(ctx, addr, nil)
	return (*hexutil.Big)(b), err
}

type web3API struct{}

func (web3API) ClientVersion() string {
	return "FakeChain/v1.0.0"
}

type debugAPI struct {
	chain *fakeChain
}

func (api *debugAPI) TraceTransaction(ctx context.Context, hash common.Hash) (*Trace, error) {
	return api.chain.TraceTransaction(ctx, hash)
}

type fakeNodeOptions struct {
	noWeb3     bool
	noAccounts bool
}

// newFakeNode serves f over an in-process JSON-RPC connection.
func newFakeNode(t *testing.T, f *fakeChain, opts fakeNodeOptions) *Node {
	t.Helper()
	srv := rpc.NewServer()
	t.Cleanup(srv.Stop)

	api := &ethAPI{chain: f, accounts: []common.Address{f.from, common.HexToAddress("0x01")}}
	if opts.noAccounts {
		api.accounts = nil
	}
	require.NoError(t, srv.RegisterName("eth", api))
	require.NoError(t, srv.RegisterName("debug", &debugAPI{chain: f}))
	if !opts.noWeb3 {
		require.NoError(t, srv.RegisterName("web3", web3API{}))
	}

	node := NewNode(rpc.DialInProc(srv))
	t.Cleanup(node.Close)
	return node
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://127.0.0.1:8545")
	assert.ErrorIs(t, err, ErrNodeUnreachable)
}

func TestNode_Describe(t *testing.T) {
	f := newFakeChain()

	info, err := newFakeNode(t, f, fakeNodeOptions{}).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FakeChain/v1.0.0", info.ClientVersion)
	assert.Equal(t, big.NewInt(1337), info.ChainID)
	assert.Equal(t, uint64(0), info.BlockNumber)

	info, err = newFakeNode(t, f, fakeNodeOptions{noWeb3: true}).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unknown", info.ClientVersion)
}

func TestNode_NodeSender(t *testing.T) {
	f := newFakeChain()
	node := newFakeNode(t, f, fakeNodeOptions{})

	s, err := node.NodeSender(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, f.from, s.Address(), "zero address selects the first account")

	explicit := common.HexToAddress("0x01")
	s, err = node.NodeSender(context.Background(), explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, s.Address())

	_, err = newFakeNode(t, f, fakeNodeOptions{noAccounts: true}).NodeSender(context.Background(), common.Address{})
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestNode_TraceTransaction(t *testing.T) {
	f := newFakeChain()
	f.trace = &Trace{Failed: true, Gas: 90_000, ReturnValue: "08c379a0", Error: &TraceError{Message: "execution reverted"}}
	node := newFakeNode(t, f, fakeNodeOptions{})

	hash := common.HexToHash("0xabc")
	trace, err := node.TraceTransaction(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, trace.Failed)
	assert.Equal(t, uint64(90_000), trace.Gas)
	assert.Equal(t, "08c379a0", trace.ReturnValue)
	require.NotNil(t, trace.Error)
	assert.Equal(t, "execution reverted", trace.Error.Message)
	assert.Equal(t, []common.Hash{hash}, f.traced)

	f.traceErr = errors.New("method not found")
	_, err = node.TraceTransaction(context.Background(), hash)
	assert.Error(t, err)
}

func TestTraceError_UnmarshalJSON(t *testing.T) {
	var trace Trace
	require.NoError(t, json.Unmarshal([]byte(`{"failed":true,"error":"out of gas"}`), &trace))
	require.NotNil(t, trace.Error)
	assert.Equal(t, "out of gas", trace.Error.Message)

	require.NoError(t, json.Unmarshal([]byte(`{"failed":true,"error":{"message":"revert","code":3}}`), &trace))
	assert.Equal(t, "revert", trace.Error.Message)

	assert.Error(t, json.Unmarshal([]byte(`{"error":42}`), &trace))
}

func TestNodeSender_SendTransaction(t *testing.T) {
	f := newFakeChain()
	node := newFakeNode(t, f, fakeNodeOptions{})
	s := NewNodeSender(node.RPC(), f.from)

	hash, err := s.SendTransaction(context.Background(), ethereum.CallMsg{Gas: 123_456, Data: []byte{0x60, 0x80}})
	require.NoError(t, err)
	assert.Contains(t, f.receipts, hash)
	require.Len(t, f.sent, 1)
	assert.Nil(t, f.sent[0].To)
	assert.Equal(t, uint64(123_456), f.sent[0].Gas)
	assert.Equal(t, []byte{0x60, 0x80}, f.sent[0].Data)

	_, err = NewNodeSender(node.RPC(), common.HexToAddress("0x02")).SendTransaction(context.Background(), ethereum.CallMsg{Gas: 1})
	assert.Error(t, err)
}

func TestRun_OverJSONRPC(t *testing.T) {
	f := newFakeChain()
	node := newFakeNode(t, f, fakeNodeOptions{})
	sender, err := node.NodeSender(context.Background(), common.Address{})
	require.NoError(t, err)

	d := NewDeployer(node, sender,
		WithTracer(node),
		WithLogger(testLogger()),
		WithPollInterval(time.Millisecond),
	)
	output := testOutputPath(t)

	result, err := NewRunner(d, allArtifacts(t), output, testLogger()).Run(context.Background(), marketplacePlan(t))
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "1000000", result.Steps[0].Readback["total_supply_fmt"])

	saved, err := os.ReadFile(output)
	require.NoError(t, err)
	for _, step := range result.Steps {
		assert.Contains(t, string(saved), step.Address.Hex())
	}
}

func TestRun_OverJSONRPC_RevertReasons(t *testing.T) {
	reason := hexutil.Encode(encodeRevert("DataReview: token required"))

	tests := []struct {
		name       string
		setup      func(f *fakeChain)
		wantSource string
	}{
		{
			name: "from trace",
			setup: func(f *fakeChain) {
				f.trace = &Trace{Failed: true, ReturnValue: reason[2:]}
			},
			wantSource: DiagnosticSourceTrace,
		},
		{
			name: "from replay error data",
			setup: func(f *fakeChain) {
				f.traceErr = errors.New("the method debug_traceTransaction does not exist")
				f.replayErr = &testDataError{msg: "execution reverted: DataReview: token required", data: reason}
			},
			wantSource: DiagnosticSourceReplay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeChain()
			f.revertOn[1] = true
			tt.setup(f)
			node := newFakeNode(t, f, fakeNodeOptions{})
			sender := NewNodeSender(node.RPC(), f.from)

			d := NewDeployer(node, sender,
				WithTracer(node),
				WithLogger(testLogger()),
				WithPollInterval(time.Millisecond),
			)
			_, err := NewRunner(d, allArtifacts(t), testOutputPath(t), testLogger()).Run(context.Background(), marketplacePlan(t))

			var revertErr *RevertError
			require.True(t, errors.As(err, &revertErr), "got %v", err)
			assert.Equal(t, ContractDataReview, revertErr.Contract)
			require.NotNil(t, revertErr.Diagnostic)
			assert.Equal(t, tt.wantSource, revertErr.Diagnostic.Source)
			assert.Equal(t, "DataReview: token required", revertErr.Diagnostic.Reason)
			assert.Equal(t, 2, f.sentCount())
		})
	}
}
