package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE POLICY - How much a product earns per day
// =============================================================================

// RatePolicy computes a product's daily earning. Two policies exist: a flat
// amount per day, and a percentage of the product price per day.
type RatePolicy interface {
	Kind() RateKind

	// DailyRate returns the per-day earning for a product at the given price.
	DailyRate(price Amount) Amount

	// Value is the persisted parameter (amount for fixed, percent for percentage).
	Value() decimal.Decimal
}

type RateKind string

const (
	RateFixed      RateKind = "fixed"
	RatePercentage RateKind = "percentage"
)

// DefaultPercent is the percentage-of-price policy used when a product does
// not name one.
var DefaultPercent = decimal.NewFromInt(20)

var hundred = decimal.NewFromInt(100)

// FixedRate earns the same amount every day regardless of price.
type FixedRate struct {
	PerDay Amount
}

func (r FixedRate) Kind() RateKind            { return RateFixed }
func (r FixedRate) DailyRate(_ Amount) Amount { return r.PerDay }
func (r FixedRate) Value() decimal.Decimal    { return r.PerDay.Value }

// PercentageRate earns Percent% of the price every day.
type PercentageRate struct {
	Percent decimal.Decimal
}

func (r PercentageRate) Kind() RateKind { return RatePercentage }
func (r PercentageRate) DailyRate(price Amount) Amount {
	return price.Mul(r.Percent.Div(hundred))
}
func (r PercentageRate) Value() decimal.Decimal { return r.Percent }

// DefaultPercentageRate is 20% of price per day.
func DefaultPercentageRate() PercentageRate {
	return PercentageRate{Percent: DefaultPercent}
}

// Compile-time checks
var (
	_ RatePolicy = FixedRate{}
	_ RatePolicy = PercentageRate{}
)

// ParseRate rebuilds a RatePolicy from its persisted (kind, value) pair.
func ParseRate(kind string, value decimal.Decimal) (RatePolicy, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: negative rate %s", ErrInvalidInput, value)
	}
	switch RateKind(kind) {
	case RateFixed:
		return FixedRate{PerDay: AmountOf(value)}, nil
	case RatePercentage:
		return PercentageRate{Percent: value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rate kind %q", ErrInvalidInput, kind)
	}
}
