package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// FormatAmount renders base units as a decimal string with the given number of
// fractional digits, e.g. 12345 with 2 decimals is "123.45".
func FormatAmount(amount uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
	return d.StringFixed(decimals)
}

// ParseAmount converts a decimal display amount into base units.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("ledger: parse amount %q: %w", s, err)
	}
	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("ledger: amount %q has more than %d decimals", s, decimals)
	}
	if units.IsNegative() {
		return 0, fmt.Errorf("ledger: amount %q is negative", s)
	}
	if units.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("ledger: amount %q: %w", s, ErrOverflow)
	}
	return units.BigInt().Uint64(), nil
}
