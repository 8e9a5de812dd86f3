// Package money provides minor-unit arithmetic helpers. Amounts are always
// int64 minor units at package boundaries; decimal arithmetic is used only
// internally so tolerance checks behave exactly at their boundaries.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Abs returns the absolute value of a minor-unit amount.
func Abs(amount int64) int64 {
	if amount < 0 {
		return -amount
	}
	return amount
}

// Sign returns -1, 0 or 1.
func Sign(amount int64) int {
	switch {
	case amount < 0:
		return -1
	case amount > 0:
		return 1
	}
	return 0
}

// PercentDiff returns |a-b| as a percentage of |base| (the reference amount).
// A zero base yields 0 when the amounts are equal and 100 otherwise.
func PercentDiff(a, b, base int64) decimal.Decimal {
	diff := decimal.NewFromInt(Abs(a - b))
	if base == 0 {
		if diff.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return diff.Mul(hundred).Div(decimal.NewFromInt(Abs(base)))
}

// WithinPercent reports whether |a-b| is at most pct percent of |base|.
func WithinPercent(a, b, base int64, pct float64) bool {
	return PercentDiff(a, b, base).LessThanOrEqual(decimal.NewFromFloat(pct))
}

// ParseMinorUnits parses a decimal currency string ("123.45", "-9,900.00")
// into minor units with two-digit precision. Input with more precision is
// rejected rather than rounded.
func ParseMinorUnits(s string) (int64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if clean == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	minor := d.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-minor-unit precision", s)
	}
	return minor.IntPart(), nil
}

// FormatMinorUnits renders minor units as a two-decimal string.
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// ParseRate parses a VAT rate such as "17", "17%" or "0.17" into a
// percentage. Rates at or below 1 are read as fractions.
func ParseRate(s string) (decimal.Decimal, error) {
	clean := strings.TrimSuffix(strings.TrimSpace(s), "%")
	if clean == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative rate %q", s)
	}
	if d.GreaterThan(decimal.Zero) && d.LessThanOrEqual(decimal.NewFromInt(1)) {
		d = d.Mul(hundred)
	}
	return d, nil
}

// VATPortion returns the VAT included in a gross amount at rate percent,
// rounded half away from zero to whole minor units.
func VATPortion(gross int64, ratePct decimal.Decimal) int64 {
	if ratePct.IsZero() {
		return 0
	}
	g := decimal.NewFromInt(gross)
	net := g.Mul(hundred).Div(hundred.Add(ratePct))
	return g.Sub(net).Round(0).IntPart()
}
