package planner

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
)

const (
	AaveVerbSupply   = "supply"
	AaveVerbWithdraw = "withdraw"
	AaveVerbBorrow   = "borrow"
	AaveVerbRepay    = "repay"

	// aaveVariableRate is the only interest rate mode still accepted by V3 pools.
	aaveVariableRate = 2
)

// Aave plans Aave V3 pool calls against a single reserve.
type Aave struct{}

func (Aave) Name() string { return "aave" }

func (Aave) Description() string {
	return "Aave V3 lending markets"
}

func (Aave) Verbs() []adapter.Verb {
	return []adapter.Verb{
		{Name: AaveVerbSupply, Description: "Supply an asset to an Aave market", ResourceKind: "market"},
		{Name: AaveVerbWithdraw, Description: "Withdraw a supplied asset from an Aave market", ResourceKind: "market"},
		{Name: AaveVerbBorrow, Description: "Borrow an asset at the variable rate against posted collateral", ResourceKind: "market"},
		{Name: AaveVerbRepay, Description: "Repay variable-rate debt on an Aave market", ResourceKind: "market"},
	}
}

func (a Aave) Plan(in adapter.PlanInput) (adapter.Plan, error) {
	token, err := requireToken(in.Resource)
	if err != nil {
		return adapter.Plan{}, err
	}
	pool := in.Resource.Target()
	plan := adapter.Plan{
		IntentType: "lend_" + in.Verb,
		StepType:   execution.StepTypeLend,
		Target:     pool,
		Metadata: map[string]any{
			"pool":  pool.Hex(),
			"asset": token.Hex(),
		},
	}

	switch in.Verb {
	case AaveVerbSupply:
		data, err := pack(aavePoolABI, "supply", token, in.Amount, in.Recipient, uint16(0))
		if err != nil {
			return adapter.Plan{}, err
		}
		plan.Spend = &adapter.Spend{Token: token, Spender: pool}
		plan.Encode = static(data)
		plan.Past = "supplied"
		plan.Description = "Supply asset to Aave"
	case AaveVerbWithdraw:
		aToken, err := requireAux(in.Resource, "a_token")
		if err != nil {
			return adapter.Plan{}, err
		}
		data, err := pack(aavePoolABI, "withdraw", token, in.Amount, in.Recipient)
		if err != nil {
			return adapter.Plan{}, err
		}
		account := in.Account
		plan.Ceilings = []adapter.Ceiling{{
			Name:  "supplied",
			Label: "supplied balance",
			Kind:  adapter.CeilingBalance,
			Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
				return chain.ERC20Balance(ctx, r, aToken, account)
			},
		}}
		plan.Encode = static(data)
		plan.Past = "withdrew"
		plan.Description = "Withdraw asset from Aave"
	case AaveVerbBorrow:
		aToken, err := requireAux(in.Resource, "a_token")
		if err != nil {
			return adapter.Plan{}, err
		}
		oracle, err := requireAux(in.Resource, "oracle")
		if err != nil {
			return adapter.Plan{}, err
		}
		// Borrowing on behalf of someone else needs credit delegation, so debt always
		// lands on the account.
		data, err := pack(aavePoolABI, "borrow", token, in.Amount, big.NewInt(aaveVariableRate), uint16(0), in.Account)
		if err != nil {
			return adapter.Plan{}, err
		}
		account := in.Account
		decimals := in.Resource.Decimals
		plan.Ceilings = []adapter.Ceiling{
			{
				Name:  "reserve_liquidity",
				Label: "reserve liquidity",
				Kind:  adapter.CeilingLimit,
				Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
					return chain.ERC20Balance(ctx, r, token, aToken)
				},
			},
			{
				Name:  "borrow_capacity",
				Label: "borrow capacity",
				Kind:  adapter.CeilingLimit,
				Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
					decoded, err := chain.Call(ctx, r, aavePoolABI, pool, "getUserAccountData", account)
					if err != nil {
						return nil, err
					}
					availableBase, err := chain.BigAt(decoded, 2, "getUserAccountData")
					if err != nil {
						return nil, err
					}
					price, err := chain.CallUint256(ctx, r, aaveOracleABI, oracle, "getAssetPrice", token)
					if err != nil {
						return nil, err
					}
					return borrowCapacity(availableBase, price, decimals), nil
				},
			},
		}
		plan.Encode = static(data)
		plan.Past = "borrowed"
		plan.Description = "Borrow asset from Aave"
		plan.Metadata["rate_mode"] = aaveVariableRate
	case AaveVerbRepay:
		debtToken, err := requireAux(in.Resource, "variable_debt_token")
		if err != nil {
			return adapter.Plan{}, err
		}
		data, err := pack(aavePoolABI, "repay", token, in.Amount, big.NewInt(aaveVariableRate), in.Recipient)
		if err != nil {
			return adapter.Plan{}, err
		}
		borrower := in.Recipient
		plan.Spend = &adapter.Spend{Token: token, Spender: pool}
		plan.Ceilings = []adapter.Ceiling{{
			Name:  "debt",
			Label: "outstanding debt",
			Kind:  adapter.CeilingLimit,
			Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
				return chain.ERC20Balance(ctx, r, debtToken, borrower)
			},
		}}
		plan.Encode = static(data)
		plan.Past = "repaid"
		plan.Description = "Repay borrowed asset on Aave"
		plan.Metadata["rate_mode"] = aaveVariableRate
	default:
		return adapter.Plan{}, unsupportedVerb(a.Name(), in.Verb)
	}
	return plan, nil
}

// borrowCapacity converts the pool's available borrows, quoted in the oracle base
// currency, into asset base units. A zero price means the asset cannot be borrowed.
func borrowCapacity(availableBase, price *big.Int, decimals int) *big.Int {
	if price == nil || price.Sign() <= 0 || availableBase == nil {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	capacity := new(big.Int).Mul(availableBase, scale)
	return capacity.Quo(capacity, price)
}
