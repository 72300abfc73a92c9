package datamarket

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Step deploys one contract of a plan.
type Step struct {
	Name string

	// DependsOn lists contracts that must already be in the registry.
	DependsOn []string

	// Args builds constructor arguments from earlier deployments.
	Args func(reg *Registry, sender common.Address) ([]interface{}, error)

	// Verify sanity-checks the deployed contract with read-only calls and
	// returns values worth reporting.
	Verify func(ctx context.Context, c *Contract, sender common.Address) (map[string]string, error)
}

// StepResult records a completed step.
type StepResult struct {
	Name        string            `json:"name"`
	Address     common.Address    `json:"address"`
	TxHash      common.Hash       `json:"tx_hash"`
	BlockNumber uint64            `json:"block_number"`
	GasUsed     uint64            `json:"gas_used"`
	Readback    map[string]string `json:"readback,omitempty"`
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	RunID    string       `json:"run_id"`
	Sender   string       `json:"sender"`
	Steps    []StepResult `json:"steps"`
	Registry *Registry    `json:"registry"`
	Output   string       `json:"output,omitempty"`
}

// Deployment is what a Runner needs to deploy contracts.
type Deployment interface {
	Sender() common.Address
	Deploy(ctx context.Context, artifact *Artifact, args ...interface{}) (*Contract, error)
}

// Runner executes a plan strictly in order and stops at the first failure.
type Runner struct {
	deployer Deployment
	buildDir string
	output   string
	logger   *slog.Logger
}

// NewRunner creates a runner that loads artifacts from buildDir and, when
// output is non-empty, writes the registry there after every step succeeds.
func NewRunner(deployer Deployment, buildDir, output string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		deployer: deployer,
		buildDir: buildDir,
		output:   output,
		logger:   logger,
	}
}

// Run deploys every step of plan. Nothing is persisted unless all steps
// succeed; a failed step returns a *StepError and later steps are skipped.
func (r *Runner) Run(ctx context.Context, plan []Step) (*RunResult, error) {
	runID := uuid.NewString()
	sender := r.deployer.Sender()
	logger := r.logger.With(slog.String("run_id", runID))

	logger.Info("starting deployment run",
		slog.Int("steps", len(plan)),
		slog.String("sender", sender.Hex()),
		slog.String("build_dir", r.buildDir),
	)

	reg := NewRegistry()
	result := &RunResult{
		RunID:    runID,
		Sender:   sender.Hex(),
		Steps:    make([]StepResult, 0, len(plan)),
		Registry: reg,
	}

	for i, step := range plan {
		logger.Info(fmt.Sprintf("step %d/%d: %s", i+1, len(plan), step.Name))

		sr, err := r.runStep(ctx, logger, reg, step, sender)
		if err != nil {
			logger.Error("deployment run aborted",
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			return nil, &StepError{Step: step.Name, Index: i, Err: err}
		}
		reg.Set(step.Name, sr.Address)
		result.Steps = append(result.Steps, *sr)
	}

	if r.output != "" {
		if err := reg.Save(r.output); err != nil {
			return nil, err
		}
		result.Output = r.output
		logger.Info("registry saved", slog.String("path", r.output), slog.Int("contracts", reg.Len()))
	}

	logger.Info("deployment run finished")
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, reg *Registry, step Step, sender common.Address) (*StepResult, error) {
	for _, dep := range step.DependsOn {
		if _, ok := reg.Get(dep); !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrDependencyMissing, step.Name, dep)
		}
	}

	artifact, err := LoadArtifact(r.buildDir, step.Name)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded artifact",
		slog.String("contract", step.Name),
		slog.String("abi", artifact.ABIPath),
		slog.String("bytecode", artifact.BytecodePath),
		slog.Int("bytecode_bytes", len(artifact.Bytecode)),
	)

	var args []interface{}
	if step.Args != nil {
		args, err = step.Args(reg, sender)
		if err != nil {
			return nil, fmt.Errorf("constructor args: %w", err)
		}
	}

	contract, err := r.deployer.Deploy(ctx, artifact, args...)
	if err != nil {
		return nil, err
	}

	sr := &StepResult{
		Name:        step.Name,
		Address:     contract.Address,
		TxHash:      contract.TxHash,
		BlockNumber: contract.BlockNumber,
		GasUsed:     contract.GasUsed,
	}

	if step.Verify != nil {
		readback, err := step.Verify(ctx, contract, sender)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		sr.Readback = readback
		for k, v := range readback {
			logger.Info("readback", slog.String("contract", step.Name), slog.String(k, v))
		}
	}
	return sr, nil
}

// MarketplacePlan is the fixed deployment order: the token first, then the
// review and bundle contracts, which both take the token address and the
// sender as initial owner.
func MarketplacePlan(initialSupply *big.Int, decimals int32, logger *slog.Logger) []Step {
	if logger == nil {
		logger = slog.Default()
	}
	ownedByToken := func(reg *Registry, sender common.Address) ([]interface{}, error) {
		token, ok := reg.Get(ContractMyToken)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDependencyMissing, ContractMyToken)
		}
		// initialOwner is accepted by the constructor signature; OpenZeppelin
		// 4.x Ownable ignores it and uses msg.sender.
		return []interface{}{token, sender}, nil
	}

	return []Step{
		{
			Name: ContractMyToken,
			Args: func(*Registry, common.Address) ([]interface{}, error) {
				return []interface{}{new(big.Int).Set(initialSupply)}, nil
			},
			Verify: func(ctx context.Context, c *Contract, sender common.Address) (map[string]string, error) {
				return verifyToken(ctx, c, sender, initialSupply, decimals)
			},
		},
		{
			Name:      ContractDataReview,
			DependsOn: []string{ContractMyToken},
			Args:      ownedByToken,
			Verify: func(ctx context.Context, c *Contract, sender common.Address) (map[string]string, error) {
				return verifyOwner(ctx, c, sender, logger)
			},
		},
		{
			Name:      ContractDataBundle,
			DependsOn: []string{ContractMyToken},
			Args:      ownedByToken,
			Verify: func(ctx context.Context, c *Contract, sender common.Address) (map[string]string, error) {
				return verifyOwner(ctx, c, sender, logger)
			},
		},
	}
}

func verifyToken(ctx context.Context, c *Contract, sender common.Address, want *big.Int, decimals int32) (map[string]string, error) {
	v, err := c.CallSingle(ctx, "totalSupply")
	if err != nil {
		return nil, err
	}
	supply, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("totalSupply returned %T", v)
	}
	if supply.Cmp(want) != 0 {
		return nil, fmt.Errorf("%w: totalSupply is %s, want %s", ErrReadbackMismatch, supply, want)
	}

	v, err = c.CallSingle(ctx, "balanceOf", sender)
	if err != nil {
		return nil, err
	}
	balance, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", v)
	}

	return map[string]string{
		"total_supply":     supply.String(),
		"total_supply_fmt": FormatAmount(supply, decimals),
		"sender_balance":   FormatAmount(balance, decimals),
	}, nil
}

func verifyOwner(ctx context.Context, c *Contract, sender common.Address, logger *slog.Logger) (map[string]string, error) {
	v, err := c.CallSingle(ctx, "owner")
	if err != nil {
		return nil, err
	}
	owner, ok := v.(common.Address)
	if !ok {
		return nil, fmt.Errorf("owner returned %T", v)
	}
	if owner != sender {
		logger.Warn("owner differs from sender",
			slog.String("contract", c.Name),
			slog.String("owner", owner.Hex()),
			slog.String("sender", sender.Hex()),
		)
	}
	return map[string]string{"owner": owner.Hex()}, nil
}
