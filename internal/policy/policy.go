// Package policy decides whether a weight variance can be settled
// automatically or needs an admin to look at it first.
package policy

import (
	"strings"

	"github.com/kiwari-pos/weighsettle/internal/variance"
	"github.com/shopspring/decimal"
)

// Decision is the outcome of evaluating a variance against the thresholds.
type Decision string

const (
	DecisionNoDifference          Decision = "NO_DIFFERENCE_REQUIRED"
	DecisionAutoApproved          Decision = "AUTO_APPROVED"
	DecisionAdminApprovalRequired Decision = "ADMIN_APPROVAL_REQUIRED"
)

// Rule names how the two thresholds combine.
type Rule string

// Comparator names how a value is compared against its threshold.
type Comparator string

const (
	// RuleEitherExceeds sends a variance to review when the percent OR the
	// amount threshold is exceeded.
	RuleEitherExceeds Rule = "EITHER_EXCEEDS"

	// StrictlyGreater: a value equal to its threshold does not exceed it.
	StrictlyGreater Comparator = "STRICTLY_GREATER"
	// AtLeast: reaching the threshold counts as exceeding it.
	AtLeast Comparator = "AT_LEAST"
)

// The active policy. Changing either constant is a policy change and must
// come with updated boundary tests.
const (
	CombineRule = RuleEitherExceeds
	Compare     = StrictlyGreater
)

// Default threshold values used when configuration does not override them.
var (
	DefaultPercentThreshold = decimal.NewFromInt(20)
	DefaultAmountThreshold  = decimal.NewFromInt(50)
)

// Thresholds is the per-deployment policy configuration.
type Thresholds struct {
	// PercentThreshold is compared against |percent difference| (e.g. 20 = 20%).
	PercentThreshold decimal.Decimal `json:"percent_threshold"`
	// AmountThreshold is compared against |price difference| in currency units.
	AmountThreshold decimal.Decimal `json:"amount_threshold"`
}

// DefaultThresholds returns 20% / 50.00.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PercentThreshold: DefaultPercentThreshold,
		AmountThreshold:  DefaultAmountThreshold,
	}
}

// Evaluation explains a decision so the admin surface can show which
// thresholds were exceeded.
type Evaluation struct {
	Decision         Decision   `json:"decision"`
	Rule             Rule       `json:"rule"`
	Comparator       Comparator `json:"comparator"`
	PercentExceeded  bool       `json:"percent_exceeded"`
	AmountExceeded   bool       `json:"amount_exceeded"`
	PercentUndefined bool       `json:"percent_undefined"`
	Thresholds       Thresholds `json:"thresholds"`
}

// Reason renders the evaluation as a one-line audit reason.
func (e Evaluation) Reason() string {
	switch e.Decision {
	case DecisionNoDifference:
		return "no price difference"
	case DecisionAutoApproved:
		return "within thresholds"
	}
	var parts []string
	if e.PercentUndefined {
		parts = append(parts, "percent difference undefined")
	}
	if e.PercentExceeded {
		parts = append(parts, "percent threshold "+e.Thresholds.PercentThreshold.String()+"% exceeded")
	}
	if e.AmountExceeded {
		parts = append(parts, "amount threshold "+e.Thresholds.AmountThreshold.StringFixed(2)+" exceeded")
	}
	return strings.Join(parts, "; ")
}

// Engine applies Thresholds to variances.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an Engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{thresholds: t}
}

// Thresholds returns the configured thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs Decide with the engine's thresholds.
func (e *Engine) Evaluate(v variance.Variance) Evaluation {
	return Decide(v, e.thresholds)
}

// Decide is the pure decision function.
//
// A zero price difference never needs payment. An undefined percent (zero
// estimated weight) cannot be checked against a percent threshold and goes
// to review.
func Decide(v variance.Variance, t Thresholds) Evaluation {
	ev := Evaluation{
		Rule:       CombineRule,
		Comparator: Compare,
		Thresholds: t,
	}

	if v.PriceDiff.IsZero() {
		ev.Decision = DecisionNoDifference
		return ev
	}

	if v.PercentDefined() {
		ev.PercentExceeded = Compare.exceeds(v.PercentDiff.Decimal.Abs(), t.PercentThreshold)
	} else {
		ev.PercentUndefined = true
	}
	ev.AmountExceeded = Compare.exceeds(v.PriceDiff.Abs(), t.AmountThreshold)

	if ev.PercentUndefined || ev.PercentExceeded || ev.AmountExceeded {
		ev.Decision = DecisionAdminApprovalRequired
		return ev
	}

	ev.Decision = DecisionAutoApproved
	return ev
}

func (c Comparator) exceeds(value, threshold decimal.Decimal) bool {
	switch c {
	case AtLeast:
		return value.GreaterThanOrEqual(threshold)
	default:
		return value.GreaterThan(threshold)
	}
}
