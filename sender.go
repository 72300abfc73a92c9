package datamarket

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Sender submits transactions from a fixed identity.
type Sender interface {
	Address() common.Address
	// SendTransaction submits msg and returns the transaction hash.
	// msg.Gas must already be set.
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
}

// NodeSender submits transactions with eth_sendTransaction, leaving signing,
// nonce and fee selection to the node. It suits development nodes with
// unlocked accounts.
type NodeSender struct {
	rpc  *rpc.Client
	from common.Address
}

// NewNodeSender creates a sender for an account unlocked on the node.
func NewNodeSender(c *rpc.Client, from common.Address) *NodeSender {
	return &NodeSender{rpc: c, from: from}
}

// Address returns the sending account.
func (s *NodeSender) Address() common.Address {
	return s.from
}

// SendTransaction submits msg via eth_sendTransaction.
func (s *NodeSender) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	var hash common.Hash
	if err := s.rpc.CallContext(ctx, &hash, "eth_sendTransaction", buildSendArgs(s.from, msg)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// sendArgs represents eth_sendTransaction arguments.
type sendArgs struct {
	From     string  `json:"from"`
	To       *string `json:"to,omitempty"`
	Gas      string  `json:"gas"`
	GasPrice *string `json:"gasPrice,omitempty"`
	Value    string  `json:"value"`
	Data     string  `json:"data,omitempty"`
}

func buildSendArgs(from common.Address, msg ethereum.CallMsg) sendArgs {
	args := sendArgs{
		From:  from.Hex(),
		Gas:   hexutil.EncodeUint64(msg.Gas),
		Value: hexutil.EncodeBig(valueOrZero(msg.Value)),
	}
	// Recipient stays unset for contract creation
	if msg.To != nil {
		to := msg.To.Hex()
		args.To = &to
	}
	if msg.GasPrice != nil {
		price := hexutil.EncodeBig(msg.GasPrice)
		args.GasPrice = &price
	}
	if len(msg.Data) > 0 {
		args.Data = hexutil.Encode(msg.Data)
	}
	return args
}

// KeyBackend is what KeySender needs from the node.
type KeyBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySender signs legacy transactions locally with a private key and
// submits them as raw transactions.
type KeySender struct {
	backend KeyBackend
	key     *ecdsa.PrivateKey
	from    common.Address

	mu      sync.Mutex
	chainID *big.Int
}

// NewKeySender creates a sender from a hex-encoded secp256k1 private key.
func NewKeySender(backend KeyBackend, hexKey string) (*KeySender, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidConfig, err)
	}
	return &KeySender{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the address derived from the key.
func (s *KeySender) Address() common.Address {
	return s.from
}

// SendTransaction signs msg and submits it.
func (s *KeySender) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	chainID, err := s.getChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get chain ID: %w", err)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice := msg.GasPrice
	if gasPrice == nil {
		gasPrice, err = s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("get gas price: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      msg.Gas,
		To:       msg.To,
		Value:    valueOrZero(msg.Value),
		Data:     msg.Data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, err
	}
	return signedTx.Hash(), nil
}

func (s *KeySender) getChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return s.chainID, nil
	}
	id, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	s.chainID = id
	return id, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
