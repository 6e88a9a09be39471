package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// ToBaseUnits converts a decimal price string (e.g. "0.001") into integer
// token base units at the given decimal count. The arithmetic is pure string
// and big-integer work; binary floating point never enters the picture.
// Fractional digits beyond the decimal count are truncated. Negative or
// malformed prices are rejected.
func ToBaseUnits(price string, decimals int) (*big.Int, error) {
	if price == "" {
		return nil, fmt.Errorf("empty price")
	}
	if strings.HasPrefix(price, "-") {
		return nil, fmt.Errorf("negative price %q", price)
	}

	intPart, fracPart, hasDot := strings.Cut(price, ".")
	if hasDot && intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("malformed price %q", price)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return nil, fmt.Errorf("malformed price %q", price)
	}

	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("malformed price %q", price)
	}
	return n, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
