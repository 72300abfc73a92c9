package datamarket

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// errorStringSelector is bytes4(keccak256("Error(string)")).
var errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// Diagnostic sources.
const (
	DiagnosticSourceTrace    = "debug_traceTransaction"
	DiagnosticSourceReplay   = "eth_call replay"
	DiagnosticSourceEstimate = "eth_estimateGas"
)

// RevertDiagnostic is the advisory explanation recovered for a reverted
// transaction. At most one of Reason, RawData or Message is normally set.
type RevertDiagnostic struct {
	Source  string `json:"source"`
	Reason  string `json:"reason,omitempty"`
	RawData string `json:"raw_data,omitempty"`
	Message string `json:"message,omitempty"`
}

// String renders the diagnostic for display.
func (d *RevertDiagnostic) String() string {
	switch {
	case d == nil:
		return ""
	case d.Reason != "":
		return fmt.Sprintf("revert reason %q", d.Reason)
	case d.RawData != "":
		return "raw revert data " + d.RawData
	case d.Message != "":
		return "node error: " + d.Message
	default:
		return ""
	}
}

// Empty reports whether nothing was recovered.
func (d *RevertDiagnostic) Empty() bool {
	return d == nil || (d.Reason == "" && d.RawData == "" && d.Message == "")
}

// DecodeRevertReason decodes an Error(string) revert payload. ok is false
// when data does not have that shape.
func DecodeRevertReason(data []byte) (reason string, ok bool) {
	if len(data) < 4 || !bytes.Equal(data[:4], errorStringSelector) {
		return "", false
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return "", false
	}
	return strings.TrimRight(reason, "\x00"), true
}

// DiagnoseTrace interprets a debug_traceTransaction result.
func DiagnoseTrace(trace *Trace) *RevertDiagnostic {
	diag := &RevertDiagnostic{Source: DiagnosticSourceTrace}
	if trace == nil {
		return diag
	}
	if ret := strings.TrimSpace(trace.ReturnValue); ret != "" && ret != "0x" {
		if !strings.HasPrefix(ret, "0x") {
			ret = "0x" + ret
		}
		applyRevertData(diag, ret)
		return diag
	}
	if trace.Error != nil && trace.Error.Message != "" {
		diag.Message = trace.Error.Message
	}
	return diag
}

// DiagnoseCallError interprets the error of a replayed call. Nodes attach
// the revert payload as JSON-RPC error data.
func DiagnoseCallError(err error) *RevertDiagnostic {
	diag := &RevertDiagnostic{Source: DiagnosticSourceReplay}
	if err == nil {
		return diag
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok && data != "" {
			applyRevertData(diag, data)
			if !diag.Empty() {
				return diag
			}
		}
	}
	diag.Message = err.Error()
	return diag
}

func applyRevertData(diag *RevertDiagnostic, hexData string) {
	data, err := hexutil.Decode(hexData)
	if err != nil {
		diag.RawData = hexData
		return
	}
	if reason, ok := DecodeRevertReason(data); ok {
		diag.Reason = reason
		return
	}
	diag.RawData = hexData
}

// DiagnoseEstimateError extracts revert data from a failed gas estimation.
// It returns nil when the error carries no revert payload.
func DiagnoseEstimateError(err error) *RevertDiagnostic {
	diag := DiagnoseCallError(err)
	if diag.Reason == "" && diag.RawData == "" {
		return nil
	}
	diag.Source = DiagnosticSourceEstimate
	return diag
}
