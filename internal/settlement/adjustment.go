package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/shopspring/decimal"
)

const percentPlaces = 4

// Authorization is the payment context captured from the order at
// registration. CaptureReference is what a refund is issued against.
type Authorization struct {
	Handle           string    `json:"handle"`
	AuthorizedAt     time.Time `json:"authorized_at"`
	CaptureReference string    `json:"capture_reference,omitempty"`
}

// Adjustment is one order's weight settlement record.
type Adjustment struct {
	ID                       uuid.UUID             `json:"id"`
	OrderID                  uuid.UUID             `json:"order_id"`
	Status                   enum.AdjustmentStatus `json:"status"`
	EstimatedWeightGrams     int64                 `json:"estimated_weight_grams"`
	ActualWeightGrams        *int64                `json:"actual_weight_grams"`
	WeightDifferenceGrams    *int64                `json:"weight_difference_grams"`
	PricePerUnit             decimal.Decimal       `json:"price_per_unit"`
	EstimatedPrice           decimal.Decimal       `json:"estimated_price"`
	ActualPrice              decimal.NullDecimal   `json:"actual_price"`
	PriceDifference          decimal.Decimal       `json:"price_difference"`
	PercentDifference        decimal.NullDecimal   `json:"percent_difference"`
	ExternalReportID         string                `json:"external_report_id,omitempty"`
	ReportCapturedAt         *time.Time            `json:"report_captured_at,omitempty"`
	ReceivedAt               *time.Time            `json:"received_at,omitempty"`
	DecidedAt                *time.Time            `json:"decided_at,omitempty"`
	SettledAt                *time.Time            `json:"settled_at,omitempty"`
	RejectionReason          string                `json:"rejection_reason,omitempty"`
	FailureReason            string                `json:"failure_reason,omitempty"`
	CapturedPaymentReference string                `json:"captured_payment_reference,omitempty"`
	Authorization            Authorization         `json:"authorization"`
	Version                  int32                 `json:"version"`
	CreatedAt                time.Time             `json:"created_at"`
	UpdatedAt                time.Time             `json:"updated_at"`
}

// Weighed reports whether a weight report has been applied.
func (a Adjustment) Weighed() bool {
	return a.ActualWeightGrams != nil
}

// Transition is one row of the audit trail. From is empty for the
// registration entry.
type Transition struct {
	ID         uuid.UUID             `json:"id"`
	From       enum.AdjustmentStatus `json:"from_status"`
	To         enum.AdjustmentStatus `json:"to_status"`
	Reason     string                `json:"reason,omitempty"`
	Actor      string                `json:"actor"`
	OccurredAt time.Time             `json:"occurred_at"`
}

func fromRow(r database.WeightAdjustment) Adjustment {
	a := Adjustment{
		ID:                       r.ID,
		OrderID:                  r.OrderID,
		Status:                   enum.AdjustmentStatus(r.Status),
		EstimatedWeightGrams:     r.EstimatedWeightGrams,
		ActualWeightGrams:        int8Ptr(r.ActualWeightGrams),
		WeightDifferenceGrams:    int8Ptr(r.WeightDifferenceGrams),
		PricePerUnit:             numericToDecimal(r.PricePerUnit),
		EstimatedPrice:           numericToDecimal(r.EstimatedPrice),
		ActualPrice:              numericToNullDecimal(r.ActualPrice),
		PriceDifference:          numericToDecimal(r.PriceDifference),
		PercentDifference:        numericToNullDecimal(r.PercentDifference),
		ExternalReportID:         r.ExternalReportID.String,
		ReportCapturedAt:         timePtr(r.ReportCapturedAt),
		ReceivedAt:               timePtr(r.ReceivedAt),
		DecidedAt:                timePtr(r.DecidedAt),
		SettledAt:                timePtr(r.SettledAt),
		RejectionReason:          r.RejectionReason.String,
		FailureReason:            r.FailureReason.String,
		CapturedPaymentReference: r.CapturedPaymentReference.String,
		Authorization: Authorization{
			Handle:           r.AuthorizationHandle,
			AuthorizedAt:     r.AuthorizedAt,
			CaptureReference: r.OriginalCaptureReference.String,
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	return a
}

// updateParams writes the full mutable state of a, guarded by version.
func (a Adjustment) updateParams(version int32) database.UpdateAdjustmentParams {
	p := database.UpdateAdjustmentParams{
		ID:                       a.ID,
		Version:                  version,
		Status:                   a.Status.String(),
		ActualWeightGrams:        int8From(a.ActualWeightGrams),
		WeightDifferenceGrams:    int8From(a.WeightDifferenceGrams),
		ExternalReportID:         textFrom(a.ExternalReportID),
		ReportCapturedAt:         timestamptzFrom(a.ReportCapturedAt),
		ReceivedAt:               timestamptzFrom(a.ReceivedAt),
		DecidedAt:                timestamptzFrom(a.DecidedAt),
		SettledAt:                timestamptzFrom(a.SettledAt),
		RejectionReason:          textFrom(a.RejectionReason),
		FailureReason:            textFrom(a.FailureReason),
		CapturedPaymentReference: textFrom(a.CapturedPaymentReference),
	}
	if a.ActualPrice.Valid {
		p.ActualPrice = decimalToNumeric(a.ActualPrice.Decimal, 2)
		p.PriceDifference = decimalToNumeric(a.PriceDifference, 2)
	}
	if a.PercentDifference.Valid {
		p.PercentDifference = decimalToNumeric(a.PercentDifference.Decimal, percentPlaces)
	}
	return p
}

func transitionFromRow(r database.AdjustmentTransition) Transition {
	return Transition{
		ID:         r.ID,
		From:       enum.AdjustmentStatus(r.FromStatus),
		To:         enum.AdjustmentStatus(r.ToStatus),
		Reason:     r.Reason.String,
		Actor:      r.Actor,
		OccurredAt: r.OccurredAt,
	}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func numericToNullDecimal(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: numericToDecimal(n), Valid: true}
}

func decimalToNumeric(d decimal.Decimal, places int32) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(places))
	return n
}

func int8Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func int8From(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timestamptzFrom(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func textFrom(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
