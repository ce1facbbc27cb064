package planner

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
)

// Gauge stakes LP tokens into a liquidity gauge and unstakes them again.
type Gauge struct{}

func (Gauge) Name() string { return "gauge" }

func (Gauge) Description() string { return "Liquidity gauges" }

func (Gauge) Verbs() []adapter.Verb {
	return []adapter.Verb{
		{Name: "stake", Description: "Stake LP tokens into a gauge", ResourceKind: "gauge"},
		{Name: "unstake", Description: "Unstake LP tokens from a gauge", ResourceKind: "gauge"},
	}
}

func (g Gauge) Plan(in adapter.PlanInput) (adapter.Plan, error) {
	gauge := in.Resource.Target()
	switch in.Verb {
	case "stake":
		lp, err := requireToken(in.Resource)
		if err != nil {
			return adapter.Plan{}, err
		}
		data, err := pack(gaugeABI, "deposit", in.Amount)
		if err != nil {
			return adapter.Plan{}, err
		}
		return adapter.Plan{
			IntentType:  "gauge_stake",
			StepType:    execution.StepTypeStake,
			Target:      gauge,
			Spend:       &adapter.Spend{Token: lp, Spender: gauge},
			Encode:      static(data),
			Past:        "staked",
			Description: "Stake LP tokens in gauge " + in.Resource.Name,
			Metadata:    map[string]any{"gauge": gauge.Hex()},
		}, nil
	case "unstake":
		data, err := pack(gaugeABI, "withdraw", in.Amount)
		if err != nil {
			return adapter.Plan{}, err
		}
		account := in.Account
		return adapter.Plan{
			IntentType: "gauge_unstake",
			StepType:   execution.StepTypeUnstake,
			Target:     gauge,
			Ceilings: []adapter.Ceiling{{
				Name:  "staked",
				Label: "staked balance",
				Kind:  adapter.CeilingBalance,
				Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
					return chain.CallUint256(ctx, r, gaugeABI, gauge, "balanceOf", account)
				},
			}},
			Encode:      static(data),
			Past:        "unstaked",
			Description: "Unstake LP tokens from gauge " + in.Resource.Name,
			Metadata:    map[string]any{"gauge": gauge.Hex()},
		}, nil
	default:
		return adapter.Plan{}, unsupportedVerb(g.Name(), in.Verb)
	}
}
