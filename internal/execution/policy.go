package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
)

var (
	policyERC20ABI  = mustPolicyABI(registry.ERC20ABI)
	policyRouterABI = mustPolicyABI(registry.UniswapV3RouterABI)

	policyApproveSelector   = policyERC20ABI.Methods["approve"].ID
	policySwapSelector      = policyRouterABI.Methods["exactInputSingle"].ID
	policyMulticallSelector = policyRouterABI.Methods["multicall"].ID
)

// validateStepPolicy is the last check before a step is signed. It bounds approvals to
// the action amount and keeps native value to the step types that may carry it.
func validateStepPolicy(action *Action, step *ActionStep, chainID int64, data []byte, value *big.Int, opts ExecuteOptions) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing action step")
	}
	if !common.IsHexAddress(step.Target) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}
	if action != nil && action.ChainID != "" && !strings.EqualFold(action.ChainID, fmt.Sprintf("eip155:%d", chainID)) {
		return clierr.New(clierr.CodeActionPlan, "step chain does not match action chain")
	}
	if value != nil && value.Sign() > 0 && step.Type != StepTypeStake {
		return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("%s step must not carry native value", step.Type))
	}

	switch step.Type {
	case StepTypeApproval:
		return validateApprovalPolicy(action, data, opts)
	case StepTypeSwap:
		return validateSwapPolicy(data)
	default:
		return nil
	}
}

func validateApprovalPolicy(action *Action, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeActionPlan, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPlan, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid approval amount")
	}
	if opts.AllowMaxApproval {
		return nil
	}
	if action == nil {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds without action context")
	}
	requested, ok := parsePositiveBaseUnits(action.InputAmount)
	if !ok {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds for non-numeric input amount; use --allow-max-approval to override")
	}
	if amount.Cmp(requested) > 0 {
		return clierr.New(
			clierr.CodeActionPlan,
			fmt.Sprintf("approval amount %s exceeds requested input amount %s; use --allow-max-approval to override", amount.String(), requested.String()),
		)
	}
	return nil
}

func validateSwapPolicy(data []byte) error {
	if len(data) < 4 {
		return clierr.New(clierr.CodeActionPlan, "swap step has no calldata")
	}
	if !bytes.Equal(data[:4], policySwapSelector) && !bytes.Equal(data[:4], policyMulticallSelector) {
		return clierr.New(clierr.CodeActionPlan, "swap step must call exactInputSingle or multicall(deadline, data)")
	}
	return nil
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
