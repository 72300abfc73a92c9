package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Bidon15/datamarket"
	"github.com/fatih/color"
)

// Output helpers

var (
	colorRed    = color.New(color.FgRed).SprintFunc()
	colorGreen  = color.New(color.FgGreen).SprintFunc()
	colorYellow = color.New(color.FgYellow).SprintFunc()
	colorBold   = color.New(color.Bold).SprintFunc()
)

// printJSON outputs data as formatted JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints an error message, with the revert diagnostic when the
// failure was a reverted deployment or a rejected gas estimation.
func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "%s %s\n", colorRed("Error:"), err.Error())

	var revertErr *datamarket.RevertError
	if errors.As(err, &revertErr) {
		_, _ = fmt.Fprintf(w, "  Contract: %s\n", revertErr.Contract)
		_, _ = fmt.Fprintf(w, "  Tx:       %s\n", revertErr.TxHash.Hex())
		_, _ = fmt.Fprintf(w, "  Block:    %d\n", revertErr.BlockNumber)
		_, _ = fmt.Fprintf(w, "  Gas used: %d\n", revertErr.GasUsed)
		printDiagnostic(w, revertErr.Diagnostic)
		return
	}

	var estimateErr *datamarket.EstimateError
	if errors.As(err, &estimateErr) && estimateErr.Diagnostic != nil {
		_, _ = fmt.Fprintf(w, "  Contract: %s\n", estimateErr.Contract)
		printDiagnostic(w, estimateErr.Diagnostic)
	}
}

func printDiagnostic(w io.Writer, diag *datamarket.RevertDiagnostic) {
	if diag.Empty() {
		_, _ = fmt.Fprintf(w, "  %s\n", colorYellow("No revert reason could be recovered"))
		return
	}
	_, _ = fmt.Fprintf(w, "  Source:   %s\n", diag.Source)
	switch {
	case diag.Reason != "":
		_, _ = fmt.Fprintf(w, "  Reason:   %s\n", diag.Reason)
	case diag.RawData != "":
		_, _ = fmt.Fprintf(w, "  Data:     %s\n", diag.RawData)
	default:
		_, _ = fmt.Fprintf(w, "  Message:  %s\n", diag.Message)
	}
}

// newTable creates a new tabwriter for formatted output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row.
func printTableHeader(w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, colorBold(col))
	}
	_, _ = fmt.Fprintln(w)
}
