package datamarket

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultPreflightTimeout is the default timeout for preflight RPC calls.
const DefaultPreflightTimeout = 10 * time.Second

// CheckName identifies a specific preflight check.
type CheckName string

const (
	// CheckNodeReachable verifies the node answers RPC calls.
	CheckNodeReachable CheckName = "node_reachable"
	// CheckChainIDMatch verifies the chain ID matches the expected value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckSenderBalance verifies the sender can pay for gas.
	CheckSenderBalance CheckName = "sender_balance"
	// CheckArtifacts verifies every plan artifact loads.
	CheckArtifacts CheckName = "artifacts"
)

// CheckResult represents the result of a single preflight check.
type CheckResult struct {
	Name    CheckName              `json:"name"`
	Passed  bool                   `json:"passed"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PreflightReport contains the results of all preflight checks.
type PreflightReport struct {
	OK     bool          `json:"ok"`
	Node   *NodeInfo     `json:"node,omitempty"`
	Sender string        `json:"sender,omitempty"`
	Checks []CheckResult `json:"checks"`
}

// Describer is a node that can report its identity.
type Describer interface {
	Describe(ctx context.Context) (*NodeInfo, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Checker performs preflight checks before a deployment run.
type Checker struct {
	timeout time.Duration
}

// NewChecker creates a new preflight checker.
func NewChecker() *Checker {
	return &Checker{timeout: DefaultPreflightTimeout}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// CheckArtifacts loads every named artifact from dir. It needs no node.
func (c *Checker) CheckArtifacts(dir string, names []string) CheckResult {
	result := CheckResult{Name: CheckArtifacts}

	var problems []string
	for _, name := range names {
		if _, err := LoadArtifact(dir, name); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		result.Message = fmt.Sprintf("%d of %d artifacts unusable", len(problems), len(names))
		result.Details = map[string]interface{}{"errors": problems}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("All %d artifacts loaded from %s", len(names), dir)
	return result
}

// Run performs node, chain, balance and artifact checks.
func (c *Checker) Run(ctx context.Context, node Describer, sender common.Address, expectedChainID uint64, dir string, names []string) *PreflightReport {
	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := &PreflightReport{OK: true, Checks: make([]CheckResult, 0, 4)}
	if sender != (common.Address{}) {
		report.Sender = sender.Hex()
	}
	add := func(r CheckResult) {
		report.Checks = append(report.Checks, r)
		if !r.Passed {
			report.OK = false
		}
	}

	info, reachable := c.checkNodeReachable(rpcCtx, node)
	add(reachable)
	if reachable.Passed {
		report.Node = info
		if expectedChainID != 0 {
			add(c.checkChainIDMatch(info, expectedChainID))
		}
		if sender != (common.Address{}) {
			add(c.checkSenderBalance(rpcCtx, node, sender))
		}
	}

	add(c.CheckArtifacts(dir, names))
	return report
}

func (c *Checker) checkNodeReachable(ctx context.Context, node Describer) (*NodeInfo, CheckResult) {
	result := CheckResult{Name: CheckNodeReachable}

	info, err := node.Describe(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("Node RPC connection failed: %v", err)
		result.Details = map[string]interface{}{"error": err.Error()}
		return nil, result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Connected to %s", info.ClientVersion)
	result.Details = map[string]interface{}{
		"client_version": info.ClientVersion,
		"chain_id":       info.ChainID.String(),
		"block_number":   info.BlockNumber,
	}
	return info, result
}

func (c *Checker) checkChainIDMatch(info *NodeInfo, expected uint64) CheckResult {
	result := CheckResult{Name: CheckChainIDMatch}

	want := new(big.Int).SetUint64(expected)
	if info.ChainID == nil || info.ChainID.Cmp(want) != 0 {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d, got %v", expected, info.ChainID)
		result.Details = map[string]interface{}{
			"expected": expected,
			"actual":   fmt.Sprint(info.ChainID),
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Chain ID %d confirmed", expected)
	return result
}

func (c *Checker) checkSenderBalance(ctx context.Context, node Describer, sender common.Address) CheckResult {
	result := CheckResult{Name: CheckSenderBalance}

	balance, err := node.BalanceAt(ctx, sender, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get sender balance: %v", err)
		result.Details = map[string]interface{}{"error": err.Error()}
		return result
	}

	haveETH := FormatAmount(balance, 18)
	result.Details = map[string]interface{}{
		"have_wei": balance.String(),
		"have_eth": haveETH,
	}
	if balance.Sign() == 0 {
		result.Message = fmt.Sprintf("Sender %s has no ETH balance", sender.Hex())
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Sender has %s ETH", haveETH)
	return result
}

// Failed returns the checks that did not pass.
func (r *PreflightReport) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// PlanNames returns the contract names of plan in order.
func PlanNames(plan []Step) []string {
	names := make([]string, len(plan))
	for i, s := range plan {
		names[i] = s.Name
	}
	return names
}
