package id

import (
	"math/big"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: ParseAmount(FormatAmount(x, d), d) == x for every positive x.
func TestFormatParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("format then parse preserves base units", prop.ForAll(
		func(hi, lo uint64, decimals int) bool {
			v := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
			v.Add(v, new(big.Int).SetUint64(lo))
			if v.Sign() == 0 {
				return true
			}
			parsed, err := ParseAmount(FormatAmount(v, decimals), decimals)
			if err != nil {
				return false
			}
			return parsed.Cmp(v) == 0
		},
		gen.UInt64(),
		gen.UInt64(),
		gen.IntRange(0, 36),
	))

	properties.Property("parse then format is the normalized input", prop.ForAll(
		func(whole uint32, frac uint32, decimals int) bool {
			fracDigits := new(big.Int).SetUint64(uint64(frac)).String()
			if len(fracDigits) > decimals {
				fracDigits = fracDigits[:decimals]
			}
			input := new(big.Int).SetUint64(uint64(whole)).String()
			if fracDigits != "" {
				input += "." + fracDigits
			}
			if CheckDecimal(input) != nil {
				return true
			}
			parsed, err := ParseAmount(input, decimals)
			if err != nil {
				return false
			}
			return FormatAmount(parsed, decimals) == trimDecimal(input)
		},
		gen.UInt32(),
		gen.UInt32(),
		gen.IntRange(0, 18),
	))

	properties.TestingRun(t)
}

// trimDecimal drops leading integer zeros and trailing fractional zeros.
func trimDecimal(v string) string {
	intPart, fracPart, hasFrac := strings.Cut(v, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac {
		return intPart
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
