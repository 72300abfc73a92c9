// datamarket deploys the data marketplace contracts to a development node
// and serves the marketplace visualisation page.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Bidon15/datamarket"
	"github.com/Bidon15/datamarket/internal/web"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information - set via ldflags during build
var (
	Version = "dev"
	Commit  = "unknown"
)

// Global flags
var (
	cfgFile   string
	logFormat string
	verbose   bool
	jsonOut   bool
)

// EnvPrefix prefixes every environment variable, e.g. DATAMARKET_RPC_URL.
const EnvPrefix = "DATAMARKET"

var rootCmd = &cobra.Command{
	Use:   "datamarket",
	Short: "Deploy the data marketplace contracts and serve the visualiser",
	Long: `datamarket deploys MyToken, DataReview and DataBundle to a local EVM
development node (Ganache, Anvil, Hardhat or geth --dev) and records the
deployed addresses in contract_addresses.json.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (DATAMARKET_RPC_URL, DATAMARKET_PRIVATE_KEY, ...)
     A .env file in the working directory is loaded first.
  3. Config file (./datamarket.yaml or ~/.datamarket.yaml)

Get started:
  $ datamarket preflight    # Check node and build artifacts
  $ datamarket deploy       # Deploy all contracts
  $ datamarket serve        # Serve the visualisation page`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "datamarket %s\n", Version)
		if verbose {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", Commit)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./datamarket.yaml or ~/.datamarket.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(addressesCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig initializes viper configuration.
func initConfig() {
	// Missing .env is fine
	_ = godotenv.Load()

	setDefaults()

	if cfgFile == "" {
		cfgFile = defaultConfigFile()
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// defaultConfigFile returns ./datamarket.yaml if present, else
// ~/.datamarket.yaml if present, else "".
func defaultConfigFile() string {
	candidates := []string{"datamarket.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".datamarket.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func setDefaults() {
	viper.SetDefault("rpc_url", datamarket.DefaultRPCURL)
	viper.SetDefault("sender", "")
	viper.SetDefault("private_key", "")
	viper.SetDefault("build_dir", datamarket.DefaultBuildDir)
	viper.SetDefault("output", datamarket.DefaultOutputFile)
	viper.SetDefault("initial_supply", datamarket.DefaultInitialSupply)
	viper.SetDefault("token_decimals", datamarket.DefaultTokenDecimals)
	viper.SetDefault("gas_buffer", datamarket.DefaultGasBuffer)
	viper.SetDefault("poll_interval", datamarket.DefaultPollInterval)
	viper.SetDefault("receipt_timeout", 0)
	viper.SetDefault("chain_id", 0)

	viper.SetDefault("server.addr", web.DefaultAddr)
	viper.SetDefault("server.static_dir", web.DefaultStaticDir)
	viper.SetDefault("server.index_file", web.DefaultIndexFile)
	viper.SetDefault("server.mount_path", web.DefaultMountPath)
}

// loadConfig resolves the deployment configuration from viper.
func loadConfig() (*datamarket.Config, error) {
	var cfg datamarket.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadServerConfig resolves the visualiser configuration from viper. Keys
// are read one by one so bound flags take effect on nested keys.
func loadServerConfig() web.Config {
	cfg := web.Config{
		Addr:      viper.GetString("server.addr"),
		StaticDir: viper.GetString("server.static_dir"),
		IndexFile: viper.GetString("server.index_file"),
		MountPath: viper.GetString("server.mount_path"),
	}
	cfg.ApplyDefaults()
	return cfg
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(logFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
