package datamarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Deployer creates contracts from artifacts, one transaction at a time.
type Deployer struct {
	backend Backend
	sender  Sender
	tracer  Tracer
	logger  *slog.Logger

	gasBuffer      uint64
	pollInterval   time.Duration
	receiptTimeout time.Duration
}

// DeployerOption configures a Deployer.
type DeployerOption func(*Deployer)

// WithTracer enables debug_traceTransaction revert diagnostics.
func WithTracer(t Tracer) DeployerOption {
	return func(d *Deployer) { d.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DeployerOption {
	return func(d *Deployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithGasBuffer sets the gas added on top of the node's estimate.
func WithGasBuffer(gas uint64) DeployerOption {
	return func(d *Deployer) { d.gasBuffer = gas }
}

// WithPollInterval sets how often the receipt is polled.
func WithPollInterval(interval time.Duration) DeployerOption {
	return func(d *Deployer) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithReceiptTimeout bounds the wait for each receipt. Zero waits until the
// context is done.
func WithReceiptTimeout(timeout time.Duration) DeployerOption {
	return func(d *Deployer) { d.receiptTimeout = timeout }
}

// NewDeployer creates a deployer that reads from backend and submits
// through sender.
func NewDeployer(backend Backend, sender Sender, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		backend:      backend,
		sender:       sender,
		logger:       slog.Default(),
		gasBuffer:    DefaultGasBuffer,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sender returns the deploying identity.
func (d *Deployer) Sender() common.Address {
	return d.sender.Address()
}

// Deploy submits a creation transaction for artifact with the given
// constructor arguments and blocks until it is mined. A reverted
// transaction yields a *RevertError.
func (d *Deployer) Deploy(ctx context.Context, artifact *Artifact, args ...interface{}) (*Contract, error) {
	from := d.sender.Address()
	logger := d.logger.With(slog.String("contract", artifact.Name))

	packed, err := artifact.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: pack constructor args: %w", artifact.Name, err)
	}
	data := make([]byte, 0, len(artifact.Bytecode)+len(packed))
	data = append(data, artifact.Bytecode...)
	data = append(data, packed...)

	logger.Info("deploying contract",
		slog.String("from", from.Hex()),
		slog.String("args", fmt.Sprintf("%v", args)),
		slog.Int("data_bytes", len(data)),
	)

	msg := ethereum.CallMsg{
		From: from,
		Data: data,
	}

	estimated, err := d.backend.EstimateGas(ctx, msg)
	if err != nil {
		estErr := &EstimateError{Contract: artifact.Name, Err: err, Diagnostic: DiagnoseEstimateError(err)}
		if estErr.Diagnostic != nil {
			logger.Error("constructor reverted during gas estimation", diagnosticAttrs(estErr.Diagnostic)...)
		}
		return nil, estErr
	}
	msg.Gas = estimated + d.gasBuffer

	logger.Info("estimated gas",
		slog.Uint64("estimated", estimated),
		slog.Uint64("gas_limit", msg.Gas),
	)

	txHash, err := d.sender.SendTransaction(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w: %v", artifact.Name, ErrSubmitFailed, err)
	}

	logger.Info("transaction submitted, waiting for receipt",
		slog.String("tx_hash", txHash.Hex()),
	)

	receipt, err := d.waitReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w: tx %s: %v", artifact.Name, ErrReceiptFailed, txHash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		revertErr := &RevertError{
			Contract:    artifact.Name,
			TxHash:      txHash,
			BlockNumber: blockNumberOf(receipt),
			GasUsed:     receipt.GasUsed,
		}
		logger.Error("deployment transaction reverted",
			slog.String("tx_hash", txHash.Hex()),
			slog.Uint64("block_number", revertErr.BlockNumber),
			slog.Uint64("gas_used", receipt.GasUsed),
		)
		revertErr.Diagnostic = d.diagnose(ctx, logger, txHash, msg, receipt)
		return nil, revertErr
	}

	addr := receipt.ContractAddress
	code, err := d.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: get code at %s: %w", artifact.Name, addr.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("deploy %s: %w: %s", artifact.Name, ErrNoContractCode, addr.Hex())
	}

	logger.Info("contract deployed",
		slog.String("address", addr.Hex()),
		slog.Uint64("block_number", blockNumberOf(receipt)),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.Int("code_bytes", len(code)),
	)

	c := NewContract(artifact.Name, addr, artifact.ABI, d.backend, from)
	c.TxHash = txHash
	c.BlockNumber = blockNumberOf(receipt)
	c.GasUsed = receipt.GasUsed
	return c, nil
}

// waitReceipt polls for the receipt of txHash until it is available.
func (d *Deployer) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if d.receiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.receiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := d.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		d.logger.Debug("receipt not yet available", slog.String("tx_hash", txHash.Hex()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// diagnose recovers a revert explanation. Failures here are logged and
// never returned.
func (d *Deployer) diagnose(ctx context.Context, logger *slog.Logger, txHash common.Hash, msg ethereum.CallMsg, receipt *types.Receipt) *RevertDiagnostic {
	if d.tracer != nil {
		trace, err := d.tracer.TraceTransaction(ctx, txHash)
		if err == nil {
			diag := DiagnoseTrace(trace)
			if !diag.Empty() {
				logger.Error("revert diagnostic", diagnosticAttrs(diag)...)
				return diag
			}
		} else {
			logger.Warn("could not trace transaction for revert reason",
				slog.String("tx_hash", txHash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Replay the creation at the block it was mined in
	msg.Gas = receipt.GasUsed + d.gasBuffer
	_, err := d.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		logger.Warn("replayed creation did not revert; no reason available")
		return nil
	}
	diag := DiagnoseCallError(err)
	logger.Error("revert diagnostic", diagnosticAttrs(diag)...)
	return diag
}

func diagnosticAttrs(diag *RevertDiagnostic) []any {
	attrs := []any{slog.String("source", diag.Source)}
	if diag.Reason != "" {
		attrs = append(attrs, slog.String("reason", diag.Reason))
	}
	if diag.RawData != "" {
		attrs = append(attrs, slog.String("raw_data", diag.RawData))
	}
	if diag.Message != "" {
		attrs = append(attrs, slog.String("message", diag.Message))
	}
	return attrs
}

func blockNumberOf(r *types.Receipt) uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
