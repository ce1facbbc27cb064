package planner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	"github.com/ggonzalez94/defi-adapters/internal/chain"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/execution"
	"github.com/ggonzalez94/defi-adapters/internal/id"
)

const (
	DefaultSlippageBps = 50

	quoteRead = "quote"
	bpsScale  = 10_000
)

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// UniswapV3 swaps an exact input through a single pool on SwapRouter02. The minimum
// output is derived from a QuoterV2 quote taken just before encoding.
type UniswapV3 struct{}

func (UniswapV3) Name() string { return "uniswap-v3" }

func (UniswapV3) Description() string { return "Uniswap V3 exact-input single-pool swaps" }

func (UniswapV3) Verbs() []adapter.Verb {
	return []adapter.Verb{
		{Name: "swap", Description: "Swap an exact amount of the pair's input token", ResourceKind: "pair", Swap: true},
	}
}

func (u UniswapV3) Plan(in adapter.PlanInput) (adapter.Plan, error) {
	if in.Verb != "swap" {
		return adapter.Plan{}, unsupportedVerb(u.Name(), in.Verb)
	}
	tokenIn, err := requireToken(in.Resource)
	if err != nil {
		return adapter.Plan{}, err
	}
	tokenOut, err := requireAux(in.Resource, "token_out")
	if err != nil {
		return adapter.Plan{}, err
	}
	quoter, err := requireAux(in.Resource, "quoter")
	if err != nil {
		return adapter.Plan{}, err
	}
	fee, ok := in.Resource.AuxInt("fee")
	if !ok || fee <= 0 {
		return adapter.Plan{}, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("resource %s is missing a pool fee tier", in.Resource.Name))
	}
	slippage := in.SlippageBps
	if slippage == 0 {
		slippage = DefaultSlippageBps
	}

	router := in.Resource.Target()
	amount := new(big.Int).Set(in.Amount)
	recipient := in.Recipient
	deadline := in.Deadline
	outSymbol := in.Resource.Aux["token_out_symbol"]
	outDecimals, _ := in.Resource.AuxInt("token_out_decimals")

	return adapter.Plan{
		IntentType: "swap",
		StepType:   execution.StepTypeSwap,
		Target:     router,
		Spend:      &adapter.Spend{Token: tokenIn, Spender: router},
		Reads: []adapter.Read{{
			Name: quoteRead,
			Fetch: func(ctx context.Context, r chain.Reader) (*big.Int, error) {
				decoded, err := chain.Call(ctx, r, quoterABI, quoter, "quoteExactInputSingle", quoteParams{
					TokenIn:           tokenIn,
					TokenOut:          tokenOut,
					AmountIn:          amount,
					Fee:               big.NewInt(fee),
					SqrtPriceLimitX96: big.NewInt(0),
				})
				if err != nil {
					return nil, err
				}
				return chain.BigAt(decoded, 0, "quoteExactInputSingle")
			},
		}},
		Encode: func(obs adapter.Observed) ([]byte, error) {
			quote, ok := obs.Value(quoteRead)
			if !ok || quote.Sign() <= 0 {
				return nil, clierr.New(clierr.CodeInsufficient, fmt.Sprintf("insufficient pool liquidity: no quote for %s", in.Resource.Name))
			}
			minOut := MinAmountOut(quote, slippage)
			data, err := pack(routerABI, "exactInputSingle", exactInputSingleParams{
				TokenIn:           tokenIn,
				TokenOut:          tokenOut,
				Fee:               big.NewInt(fee),
				Recipient:         recipient,
				AmountIn:          amount,
				AmountOutMinimum:  minOut,
				SqrtPriceLimitX96: big.NewInt(0),
			})
			if err != nil {
				return nil, err
			}
			if deadline.IsZero() {
				return data, nil
			}
			return pack(routerABI, "multicall", big.NewInt(deadline.Unix()), [][]byte{data})
		},
		Past:        "swapped",
		Description: fmt.Sprintf("Swap %s for %s", in.Resource.Symbol, outSymbol),
		Metadata: map[string]any{
			"router":             router.Hex(),
			"token_out":          tokenOut.Hex(),
			"token_out_symbol":   outSymbol,
			"token_out_decimals": outDecimals,
			"fee":                fee,
			"slippage_bps":       slippage,
			"amount_in":          id.FormatAmount(amount, in.Resource.Decimals),
		},
	}, nil
}

// MinAmountOut applies a slippage tolerance in basis points to a quoted output.
func MinAmountOut(quote *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(quote, big.NewInt(bpsScale-slippageBps))
	return out.Quo(out, big.NewInt(bpsScale))
}
