package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Bidon15/datamarket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// errPreflightFailed is returned when any check fails.
var errPreflightFailed = errors.New("preflight checks failed")

var preflightTimeout time.Duration

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the node and build artifacts before deploying",
	Long: `Run read-only checks against the node and the build directory.

Checks:
  node_reachable  the node answers eth_chainId and eth_blockNumber
  chain_id_match  the node reports the expected chain id (with --chain-id)
  sender_balance  the deploying account holds ETH
  artifacts       every contract has a loadable ABI and bytecode

No transaction is sent.

Examples:
  datamarket preflight
  datamarket preflight --chain-id 1337 --json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, deployKeys)
	},
	RunE: runPreflight,
}

func init() {
	f := preflightCmd.Flags()
	f.String("rpc-url", datamarket.DefaultRPCURL, "node JSON-RPC endpoint")
	f.String("build-dir", datamarket.DefaultBuildDir, "directory holding <Name>.json and <Name>.bin artifacts")
	f.String("sender", "", "account to check (default: first account)")
	f.String("private-key", "", "hex private key whose address is checked")
	f.Uint64("chain-id", 0, "expected chain id (0 skips the check)")
	f.DurationVar(&preflightTimeout, "timeout", datamarket.DefaultPreflightTimeout, "timeout for node calls")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr())

	node, err := datamarket.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer node.Close()

	var sender common.Address
	if s, err := buildSender(ctx, node, cfg); err != nil {
		logger.Warn("could not resolve sender; skipping balance check", slog.String("error", err.Error()))
	} else {
		sender = s.Address()
	}

	plan := datamarket.MarketplacePlan(big.NewInt(0), cfg.TokenDecimals, logger)
	report := datamarket.NewChecker().
		WithTimeout(preflightTimeout).
		Run(ctx, node, sender, cfg.ExpectedChainID, cfg.BuildDir, datamarket.PlanNames(plan))

	if jsonOut {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if !report.OK {
		return fmt.Errorf("%w: %d of %d", errPreflightFailed, len(report.Failed()), len(report.Checks))
	}
	return nil
}

func printReport(w io.Writer, report *datamarket.PreflightReport) {
	t := newTable(w)
	printTableHeader(t, "CHECK", "STATUS", "MESSAGE")
	for _, c := range report.Checks {
		status := colorGreen("PASS")
		if !c.Passed {
			status = colorRed("FAIL")
		}
		_, _ = fmt.Fprintf(t, "%s\t%s\t%s\n", c.Name, status, c.Message)
	}
	_ = t.Flush()

	for _, c := range report.Failed() {
		if errs, ok := c.Details["errors"].([]string); ok {
			_, _ = fmt.Fprintf(w, "\n%s:\n  %s\n", c.Name, strings.Join(errs, "\n  "))
		}
	}

	_, _ = fmt.Fprintln(w)
	if report.OK {
		_, _ = fmt.Fprintf(w, "%s Ready to deploy\n", colorGreen("✓"))
	} else {
		_, _ = fmt.Fprintf(w, "%s Not ready to deploy\n", colorYellow("!"))
	}
}
