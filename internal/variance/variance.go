// Package variance computes the weight and price delta between what was
// estimated at checkout and what was actually picked.
package variance

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Errors returned by Compute.
var (
	ErrNegativeWeight = errors.New("weight must be >= 0")
	ErrNegativePrice  = errors.New("price per kg must be >= 0")
)

// MinorUnitPlaces is the number of decimal places of the currency's minor unit.
const MinorUnitPlaces = 2

// gramsPerKgExp converts grams to kilograms by shifting the decimal point.
const gramsPerKgExp = -3

var hundred = decimal.NewFromInt(100)

// Variance is the result of comparing an estimated and an actual weight.
type Variance struct {
	WeightDiffGrams int64
	EstimatedPrice  decimal.Decimal
	ActualPrice     decimal.Decimal
	PriceDiff       decimal.Decimal
	// PercentDiff is invalid when the estimated weight is zero.
	PercentDiff decimal.NullDecimal
}

// PercentDefined reports whether a percent difference could be computed.
func (v Variance) PercentDefined() bool {
	return v.PercentDiff.Valid
}

// Compute derives prices and differences for the given weights.
// pricePerKg is the unit price fixed at order time. Prices are rounded to
// the minor unit with banker's rounding once, after multiplication;
// PriceDiff is taken from the rounded prices so it always equals
// ActualPrice - EstimatedPrice.
func Compute(estimatedGrams, actualGrams int64, pricePerKg decimal.Decimal) (Variance, error) {
	if estimatedGrams < 0 || actualGrams < 0 {
		return Variance{}, ErrNegativeWeight
	}
	if pricePerKg.IsNegative() {
		return Variance{}, ErrNegativePrice
	}

	estimatedPrice := priceFor(estimatedGrams, pricePerKg)
	actualPrice := priceFor(actualGrams, pricePerKg)
	weightDiff := actualGrams - estimatedGrams

	v := Variance{
		WeightDiffGrams: weightDiff,
		EstimatedPrice:  estimatedPrice,
		ActualPrice:     actualPrice,
		PriceDiff:       actualPrice.Sub(estimatedPrice),
	}

	if estimatedGrams > 0 {
		pct := decimal.NewFromInt(weightDiff).Mul(hundred).Div(decimal.NewFromInt(estimatedGrams))
		v.PercentDiff = decimal.NullDecimal{Decimal: pct, Valid: true}
	}

	return v, nil
}

func priceFor(grams int64, pricePerKg decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(grams).Shift(gramsPerKgExp).Mul(pricePerKg).RoundBank(MinorUnitPlaces)
}
