package planner

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
)

// Vault plans deposits into and withdrawals from ERC-4626 vaults. Amounts are in
// the vault's underlying asset.
type Vault struct{}

func (Vault) Name() string { return "erc4626" }

func (Vault) Description() string { return "ERC-4626 tokenized vaults" }

func (Vault) Verbs() []adapter.Verb {
	return []adapter.Verb{
		{Name: "deposit", Description: "Deposit the underlying asset into a vault", ResourceKind: "vault"},
		{Name: "withdraw", Description: "Withdraw the underlying asset from a vault", ResourceKind: "vault"},
	}
}

func (v Vault) Plan(in adapter.PlanInput) (adapter.Plan, error) {
	vault := in.Resource.Target()
	account, recipient := in.Account, in.Recipient
	switch in.Verb {
	case "deposit":
		asset, err := requireToken(in.Resource)
		if err != nil {
			return adapter.Plan{}, err
		}
		data, err := pack(vaultABI, "deposit", in.Amount, recipient)
		if err != nil {
			return adapter.Plan{}, err
		}
		return adapter.Plan{
			IntentType: "vault_deposit",
			StepType:   execution.StepTypeDeposit,
			Target:     vault,
			Spend:      &adapter.Spend{Token: asset, Spender: vault},
			Ceilings: []adapter.Ceiling{{
				Name:  "max_deposit",
				Label: "vault deposit limit",
				Kind:  adapter.CeilingLimit,
				Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
					return chain.CallUint256(ctx, r, vaultABI, vault, "maxDeposit", recipient)
				},
			}},
			Encode:      static(data),
			Past:        "deposited",
			Description: "Deposit into vault " + in.Resource.Name,
			Metadata:    map[string]any{"vault": vault.Hex()},
		}, nil
	case "withdraw":
		data, err := pack(vaultABI, "withdraw", in.Amount, recipient, account)
		if err != nil {
			return adapter.Plan{}, err
		}
		return adapter.Plan{
			IntentType: "vault_withdraw",
			StepType:   execution.StepTypeWithdraw,
			Target:     vault,
			Ceilings: []adapter.Ceiling{{
				Name:  "max_withdraw",
				Label: "withdrawable balance",
				Kind:  adapter.CeilingLimit,
				Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
					return chain.CallUint256(ctx, r, vaultABI, vault, "maxWithdraw", account)
				},
			}},
			Encode:      static(data),
			Past:        "withdrew",
			Description: "Withdraw from vault " + in.Resource.Name,
			Metadata:    map[string]any{"vault": vault.Hex()},
		}, nil
	default:
		return adapter.Plan{}, unsupportedVerb(v.Name(), in.Verb)
	}
}
