package datamarket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors
var (
	ErrInvalidConfig = errors.New("datamarket: invalid configuration")

	ErrArtifactNotFound  = errors.New("datamarket: artifact not found")
	ErrArtifactMalformed = errors.New("datamarket: artifact malformed")

	ErrNodeUnreachable = errors.New("datamarket: node unreachable")
	ErrNoAccounts      = errors.New("datamarket: node has no accounts")
	ErrChainIDMismatch = errors.New("datamarket: chain id mismatch")

	ErrEstimateFailed   = errors.New("datamarket: gas estimation failed")
	ErrSubmitFailed     = errors.New("datamarket: transaction submission failed")
	ErrReceiptFailed    = errors.New("datamarket: waiting for receipt failed")
	ErrReverted         = errors.New("datamarket: transaction reverted")
	ErrNoContractCode   = errors.New("datamarket: no code at deployed address")
	ErrReadbackMismatch = errors.New("datamarket: readback mismatch")

	ErrDependencyMissing = errors.New("datamarket: dependency not deployed")
	ErrRegistryPersist   = errors.New("datamarket: persist registry failed")
)

// RevertError reports a deployment whose receipt has a failed status.
type RevertError struct {
	Contract    string
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Diagnostic  *RevertDiagnostic
}

func (e *RevertError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deploy %s: transaction %s reverted in block %d", e.Contract, e.TxHash.Hex(), e.BlockNumber)
	if e.Diagnostic != nil {
		if s := e.Diagnostic.String(); s != "" {
			b.WriteString(": ")
			b.WriteString(s)
		}
	}
	return b.String()
}

// Is reports ErrReverted so callers can match with errors.Is.
func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}

// EstimateError reports a creation rejected by the node's gas estimation.
// Dev nodes execute the constructor while estimating, so a reverting
// constructor usually surfaces here with its revert data attached.
type EstimateError struct {
	Contract   string
	Err        error
	Diagnostic *RevertDiagnostic
}

func (e *EstimateError) Error() string {
	msg := fmt.Sprintf("deploy %s: %v: %v", e.Contract, ErrEstimateFailed, e.Err)
	if s := e.Diagnostic.String(); s != "" {
		msg += ": " + s
	}
	return msg
}

// Is reports ErrEstimateFailed so callers can match with errors.Is.
func (e *EstimateError) Is(target error) bool {
	return target == ErrEstimateFailed
}

func (e *EstimateError) Unwrap() error {
	return e.Err
}

// StepError wraps a failure of one step of a deployment plan.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
