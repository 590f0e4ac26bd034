package base

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts ringgit to sen, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// ToMajorUnits converts sen to ringgit exactly.
func ToMajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatMajor renders an amount with two decimal places, e.g. "25.50".
func FormatMajor(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
