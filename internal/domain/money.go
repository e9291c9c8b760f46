package domain

import (
	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a major-unit amount such as 12.345 into cents,
// rounding half away from zero.
func ToMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts cents into a major-unit float for JSON payloads.
func FromMinorUnits(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

// FormatMinorUnits renders cents with exactly two decimals, e.g. "12.30".
func FormatMinorUnits(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseMinorUnits parses a decimal string such as "12.30" into cents.
func ParseMinorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Round(2).Shift(2).IntPart(), nil
}
