package planner

import (
	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
)

// LiquidStaking deposits the chain's native token into a liquid staking pool and
// receives the pool's share token in return.
type LiquidStaking struct{}

func (LiquidStaking) Name() string { return "liquid-staking" }

func (LiquidStaking) Description() string { return "Native-token liquid staking" }

func (LiquidStaking) Verbs() []adapter.Verb {
	return []adapter.Verb{
		{Name: "stake", Description: "Stake the native token for liquid staking shares", ResourceKind: "staking_pool", Payable: true},
	}
}

func (s LiquidStaking) Plan(in adapter.PlanInput) (adapter.Plan, error) {
	if in.Verb != "stake" {
		return adapter.Plan{}, unsupportedVerb(s.Name(), in.Verb)
	}
	data, err := pack(stakingABI, "deposit")
	if err != nil {
		return adapter.Plan{}, err
	}
	pool := in.Resource.Target()
	metadata := map[string]any{"pool": pool.Hex()}
	if share := in.Resource.Aux["share_symbol"]; share != "" {
		metadata["share_symbol"] = share
	}
	return adapter.Plan{
		IntentType:  "liquid_stake",
		StepType:    execution.StepTypeStake,
		Target:      pool,
		Payable:     true,
		Encode:      static(data),
		Past:        "staked",
		Description: "Stake " + in.Resource.Symbol + " in " + in.Resource.Name,
		Metadata:    metadata,
	}, nil
}
