package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
)

// MaxDecimals bounds token precision; 10^77 is the largest power of ten below 2^256.
const MaxDecimals = 77

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// CheckDecimal validates the shape of a human amount without knowing the token
// precision: a plain non-negative decimal that is strictly positive.
func CheckDecimal(amount string) error {
	clean := strings.TrimSpace(amount)
	if clean == "" {
		return clierr.New(clierr.CodeUsage, "amount is required")
	}
	if !decimalPattern.MatchString(clean) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be a non-negative decimal like 1.23", amount))
	}
	if strings.Trim(strings.ReplaceAll(clean, ".", ""), "0") == "" {
		return clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return nil
}

// ParseAmount scales a decimal string by 10^decimals. Fractional digits beyond
// the token precision are rejected rather than rounded.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	if err := CheckDecimal(amount); err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > MaxDecimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("token decimals out of range: %d", decimals))
	}
	base, err := decimalToBaseUnits(strings.TrimSpace(amount), decimals)
	if err != nil {
		return nil, err
	}
	out, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return out, nil
}

// FormatAmount renders base units as a trimmed decimal string. Nil renders as "0".
func FormatAmount(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if v.Sign() < 0 {
		return "-" + formatDecimal(new(big.Int).Neg(v).String(), decimals)
	}
	return formatDecimal(v.String(), decimals)
}

func formatDecimal(baseUnits string, decimals int) string {
	if decimals <= 0 {
		return baseUnits
	}
	s := baseUnits
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s has more fractional digits than the token supports (%d)", decimal, decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return "0", nil
	}
	return combined, nil
}
