// Package datamarket deploys the data marketplace contracts (MyToken,
// DataReview, DataBundle) to an EVM development node and records the
// resulting addresses for downstream tools.
package datamarket

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Default deployment parameters.
const (
	DefaultRPCURL        = "http://127.0.0.1:8545"
	DefaultBuildDir      = "build"
	DefaultOutputFile    = "contract_addresses.json"
	DefaultGasBuffer     = 100_000
	DefaultPollInterval  = time.Second
	DefaultInitialSupply = "1000000"
	DefaultTokenDecimals = 18
)

// Contract names, in deployment order.
const (
	ContractMyToken    = "MyToken"
	ContractDataReview = "DataReview"
	ContractDataBundle = "DataBundle"
)

// Config holds configuration for a deployment run.
type Config struct {
	// Node connection
	RPCURL string `mapstructure:"rpc_url" validate:"required,url"`

	// Sender identity. With PrivateKey set, transactions are signed locally;
	// otherwise the node signs for Sender (or its first account).
	Sender     string `mapstructure:"sender" validate:"omitempty,eth_addr"`
	PrivateKey string `mapstructure:"private_key" validate:"omitempty,hexadecimal"`

	// Artifacts and output
	BuildDir   string `mapstructure:"build_dir" validate:"required"`
	OutputFile string `mapstructure:"output" validate:"required"`

	// Token parameters
	InitialSupply string `mapstructure:"initial_supply" validate:"required,numeric"`
	TokenDecimals int32  `mapstructure:"token_decimals" validate:"gte=0,lte=36"` // 0 uses DefaultTokenDecimals

	// Transaction handling
	GasBuffer       uint64        `mapstructure:"gas_buffer"` // 0 uses DefaultGasBuffer
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout" validate:"gte=0"` // 0 waits indefinitely
	ExpectedChainID uint64        `mapstructure:"chain_id"`
}

// ApplyDefaults sets default values for unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.RPCURL == "" {
		c.RPCURL = DefaultRPCURL
	}
	if c.BuildDir == "" {
		c.BuildDir = DefaultBuildDir
	}
	if c.OutputFile == "" {
		c.OutputFile = DefaultOutputFile
	}
	if c.InitialSupply == "" {
		c.InitialSupply = DefaultInitialSupply
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = DefaultTokenDecimals
	}
	if c.GasBuffer == 0 {
		c.GasBuffer = DefaultGasBuffer
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	c.PrivateKey = strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x")
}

// Validate checks that required fields are set and values are well formed.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PrivateKey != "" && c.Sender != "" {
		return fmt.Errorf("%w: sender and private_key are mutually exclusive", ErrInvalidConfig)
	}
	if _, err := c.InitialSupplyWei(); err != nil {
		return err
	}
	return nil
}

// InitialSupplyWei returns the initial token issuance scaled by
// 10^TokenDecimals.
func (c *Config) InitialSupplyWei() (*big.Int, error) {
	return ScaleAmount(c.InitialSupply, c.TokenDecimals)
}

// ScaleAmount converts a whole-unit amount such as "1000000" or "2.5" into
// base units with the given number of decimals. The result must be integral.
func ScaleAmount(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidConfig, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: amount %q is negative", ErrInvalidConfig, amount)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidConfig, amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units as a whole-unit decimal string.
func FormatAmount(wei *big.Int, decimals int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -decimals).String()
}
