// Package planner holds the per-protocol parameterizations of the action executor.
// A planner never talks to the chain itself; it declares the reads it needs and
// encodes calldata from what the executor observed.
package planner

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-adapters/internal/adapter"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
)

var (
	plannerERC20ABI = mustPlannerABI(registry.ERC20ABI)
	aavePoolABI     = mustPlannerABI(registry.AavePoolABI)
	aaveOracleABI   = mustPlannerABI(registry.AaveOracleABI)
	vaultABI        = mustPlannerABI(registry.ERC4626VaultABI)
	gaugeABI        = mustPlannerABI(registry.GaugeABI)
	stakingABI      = mustPlannerABI(registry.LiquidStakingABI)
	quoterABI       = mustPlannerABI(registry.UniswapV3QuoterV2ABI)
	routerABI       = mustPlannerABI(registry.UniswapV3RouterABI)
)

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func pack(parsed abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	return data, nil
}

// static returns an encoder for calldata that does not depend on observed state.
func static(data []byte) func(adapter.Observed) ([]byte, error) {
	return func(adapter.Observed) ([]byte, error) { return data, nil }
}

func requireToken(res registry.Resource) (common.Address, error) {
	token, ok := res.TokenAddress()
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("resource %s has no token address", res.Name))
	}
	return token, nil
}

func requireAux(res registry.Resource, key string) (common.Address, error) {
	addr, ok := res.AuxAddress(key)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("resource %s is missing %s", res.Name, key))
	}
	return addr, nil
}

func unsupportedVerb(protocol, verb string) error {
	return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support %q", protocol, verb))
}
