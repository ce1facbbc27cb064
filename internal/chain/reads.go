package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
	"github.com/ggonzalez94/defi-adapters/internal/registry"
	"github.com/pkg/errors"
)

var (
	erc20Once sync.Once
	erc20ABI  abi.ABI
	erc20Err  error
)

func erc20() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20ABI, erc20Err = abi.JSON(strings.NewReader(registry.ERC20ABI))
	})
	return erc20ABI, erc20Err
}

// ERC20Balance reads token.balanceOf(owner).
func ERC20Balance(ctx context.Context, r Reader, token, owner common.Address) (*big.Int, error) {
	parsed, err := erc20()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	return CallUint256(ctx, r, parsed, token, "balanceOf", owner)
}

// ERC20Allowance reads token.allowance(owner, spender).
func ERC20Allowance(ctx context.Context, r Reader, token, owner, spender common.Address) (*big.Int, error) {
	parsed, err := erc20()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	return CallUint256(ctx, r, parsed, token, "allowance", owner, spender)
}

func NativeBalance(ctx context.Context, r Reader, owner common.Address) (*big.Int, error) {
	balance, err := r.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", errors.Wrapf(err, "balance of %s", owner.Hex()))
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Call packs method, runs eth_call against target and returns the raw output values.
func Call(ctx context.Context, r Reader, parsed abi.ABI, target common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" call", err)
	}
	out, err := r.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read "+method, errors.Wrapf(err, "call %s on %s", method, target.Hex()))
	}
	decoded, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+method, errors.Wrapf(err, "unpack %s from %s", method, target.Hex()))
	}
	return decoded, nil
}

// CallUint256 runs a call whose first output is a uint256.
func CallUint256(ctx context.Context, r Reader, parsed abi.ABI, target common.Address, method string, args ...any) (*big.Int, error) {
	decoded, err := Call(ctx, r, parsed, target, method, args...)
	if err != nil {
		return nil, err
	}
	return BigAt(decoded, 0, method)
}

// BigAt extracts a *big.Int output by position.
func BigAt(decoded []any, index int, method string) (*big.Int, error) {
	if len(decoded) <= index {
		return nil, clierr.New(clierr.CodeUnavailable, "empty "+method+" response")
	}
	value, ok := decoded[index].(*big.Int)
	if !ok || value == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid "+method+" response")
	}
	return value, nil
}
