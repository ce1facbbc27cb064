package execution

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
)

// ApprovalStepID is stable per token so a resumed action keeps the same step ids.
func ApprovalStepID(token common.Address) string {
	return fmt.Sprintf("approve-%s", strings.TrimPrefix(strings.ToLower(token.Hex()), "0x"))
}

// BuildApprovalStep encodes approve(spender, amount) on token. The approval is for the
// exact amount, never unlimited.
func BuildApprovalStep(chainID string, token, spender common.Address, amount *big.Int, description string) (ActionStep, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ActionStep{}, clierr.New(clierr.CodeInternal, "approval amount must be positive")
	}
	if spender == (common.Address{}) {
		return ActionStep{}, clierr.New(clierr.CodeInternal, "approval spender is zero")
	}
	data, err := policyERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return ActionStep{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return ActionStep{
		StepID:      ApprovalStepID(token),
		Type:        StepTypeApproval,
		Status:      StepStatusPending,
		ChainID:     chainID,
		Description: description,
		Target:      token.Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       "0",
	}, nil
}

// BuildCallStep wraps encoded calldata for target. value may be nil for non-payable calls.
func BuildCallStep(stepID string, stepType StepType, chainID string, target common.Address, data []byte, value *big.Int, description string) ActionStep {
	v := "0"
	if value != nil && value.Sign() > 0 {
		v = value.String()
	}
	return ActionStep{
		StepID:      stepID,
		Type:        stepType,
		Status:      StepStatusPending,
		ChainID:     chainID,
		Description: description,
		Target:      target.Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       v,
	}
}
