package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/Bidon15/datamarket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy MyToken, DataReview and DataBundle",
	Long: `Deploy the marketplace contracts in dependency order.

MyToken is deployed first with the configured initial supply. DataReview and
DataBundle are then deployed with the token address and the sender as
initial owner. Artifacts are read from <build-dir>/<Name>.json (ABI) and
<build-dir>/<Name>.bin (bytecode).

The run stops at the first failure. The address file is written only when
every contract deployed.

Examples:
  # Deploy to a local Ganache with its first unlocked account
  datamarket deploy

  # Deploy to Anvil signing with a local key
  DATAMARKET_PRIVATE_KEY=0xac09... datamarket deploy --rpc-url http://127.0.0.1:8545

  # Guard against deploying to the wrong chain
  datamarket deploy --chain-id 1337`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, deployKeys)
	},
	RunE: runDeploy,
}

// deployKeys maps viper keys to deploy flags.
var deployKeys = map[string]string{
	"rpc_url":         "rpc-url",
	"build_dir":       "build-dir",
	"output":          "output",
	"sender":          "sender",
	"private_key":     "private-key",
	"initial_supply":  "initial-supply",
	"token_decimals":  "token-decimals",
	"gas_buffer":      "gas-buffer",
	"poll_interval":   "poll-interval",
	"receipt_timeout": "receipt-timeout",
	"chain_id":        "chain-id",
}

func init() {
	f := deployCmd.Flags()
	f.String("rpc-url", datamarket.DefaultRPCURL, "node JSON-RPC endpoint")
	f.String("build-dir", datamarket.DefaultBuildDir, "directory holding <Name>.json and <Name>.bin artifacts")
	f.String("output", datamarket.DefaultOutputFile, "address file to write")
	f.String("sender", "", "unlocked node account to deploy from (default: first account)")
	f.String("private-key", "", "hex private key for local signing (prefer DATAMARKET_PRIVATE_KEY)")
	f.String("initial-supply", datamarket.DefaultInitialSupply, "MyToken initial supply in whole tokens")
	f.Int32("token-decimals", datamarket.DefaultTokenDecimals, fmt.Sprintf("MyToken decimals used to scale the supply (0 uses the default of %d)", datamarket.DefaultTokenDecimals))
	f.Uint64("gas-buffer", datamarket.DefaultGasBuffer, fmt.Sprintf("gas added to each estimate (0 uses the default of %d)", datamarket.DefaultGasBuffer))
	f.Duration("poll-interval", datamarket.DefaultPollInterval, "receipt polling interval")
	f.Duration("receipt-timeout", 0, "maximum wait per receipt (0 waits indefinitely)")
	f.Uint64("chain-id", 0, "expected chain id (0 skips the check)")
}

// bindFlags binds viper keys to the named flags of cmd. Commands share keys,
// so binding happens when the command runs rather than in init.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	supply, err := cfg.InitialSupplyWei()
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

	info, err := node.Describe(ctx)
	if err != nil {
		return err
	}
	logger.Info("connected to node",
		slog.String("rpc_url", cfg.RPCURL),
		slog.String("client_version", info.ClientVersion),
		slog.String("chain_id", info.ChainID.String()),
		slog.Uint64("block_number", info.BlockNumber),
	)
	if !jsonOut {
		_, _ = fmt.Fprintf(out, "%s %s\n", colorBold("Node:"), info.ClientVersion)
		_, _ = fmt.Fprintf(out, "  RPC:      %s\n", cfg.RPCURL)
		_, _ = fmt.Fprintf(out, "  Chain ID: %s\n", info.ChainID)
		_, _ = fmt.Fprintf(out, "  Block:    %d\n\n", info.BlockNumber)
	}
	if cfg.ExpectedChainID != 0 && info.ChainID.Cmp(new(big.Int).SetUint64(cfg.ExpectedChainID)) != 0 {
		return fmt.Errorf("%w: expected %d, node reports %s", datamarket.ErrChainIDMismatch, cfg.ExpectedChainID, info.ChainID)
	}

	sender, err := buildSender(ctx, node, cfg)
	if err != nil {
		return err
	}

	deployer := datamarket.NewDeployer(node, sender,
		datamarket.WithTracer(node),
		datamarket.WithLogger(logger),
		datamarket.WithGasBuffer(cfg.GasBuffer),
		datamarket.WithPollInterval(cfg.PollInterval),
		datamarket.WithReceiptTimeout(cfg.ReceiptTimeout),
	)
	runner := datamarket.NewRunner(deployer, cfg.BuildDir, cfg.OutputFile, logger)

	result, err := runner.Run(ctx, datamarket.MarketplacePlan(supply, cfg.TokenDecimals, logger))
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, result)
	}
	printSummary(out, result)
	return nil
}

// buildSender picks local signing when a private key is configured and
// node signing otherwise.
func buildSender(ctx context.Context, node *datamarket.Node, cfg *datamarket.Config) (datamarket.Sender, error) {
	if cfg.PrivateKey != "" {
		return datamarket.NewKeySender(node, cfg.PrivateKey)
	}
	var from common.Address
	if cfg.Sender != "" {
		from = common.HexToAddress(cfg.Sender)
	}
	return node.NodeSender(ctx, from)
}

func printSummary(w io.Writer, result *datamarket.RunResult) {
	_, _ = fmt.Fprintf(w, "%s Deployed %d contracts from %s\n\n", colorGreen("✓"), len(result.Steps), result.Sender)

	t := newTable(w)
	printTableHeader(t, "CONTRACT", "ADDRESS", "BLOCK", "GAS USED")
	for _, s := range result.Steps {
		_, _ = fmt.Fprintf(t, "%s\t%s\t%d\t%d\n", s.Name, s.Address.Hex(), s.BlockNumber, s.GasUsed)
	}
	_ = t.Flush()

	for _, s := range result.Steps {
		if v, ok := s.Readback["total_supply_fmt"]; ok {
			_, _ = fmt.Fprintf(w, "\n%s total supply: %s (sender balance %s)\n", s.Name, v, s.Readback["sender_balance"])
		}
	}
	if result.Output != "" {
		_, _ = fmt.Fprintf(w, "\nAddresses written to %s\n", result.Output)
	}
	_, _ = fmt.Fprintf(w, "Run ID: %s\n", result.RunID)
}
