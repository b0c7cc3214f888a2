package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type WeightAdjustment struct {
	ID                       uuid.UUID          `json:"id"`
	OrderID                  uuid.UUID          `json:"order_id"`
	Status                   string             `json:"status"`
	EstimatedWeightGrams     int64              `json:"estimated_weight_grams"`
	ActualWeightGrams        pgtype.Int8        `json:"actual_weight_grams"`
	WeightDifferenceGrams    pgtype.Int8        `json:"weight_difference_grams"`
	PricePerUnit             pgtype.Numeric     `json:"price_per_unit"`
	EstimatedPrice           pgtype.Numeric     `json:"estimated_price"`
	ActualPrice              pgtype.Numeric     `json:"actual_price"`
	PriceDifference          pgtype.Numeric     `json:"price_difference"`
	PercentDifference        pgtype.Numeric     `json:"percent_difference"`
	ExternalReportID         pgtype.Text        `json:"external_report_id"`
	ReportCapturedAt         pgtype.Timestamptz `json:"report_captured_at"`
	ReceivedAt               pgtype.Timestamptz `json:"received_at"`
	DecidedAt                pgtype.Timestamptz `json:"decided_at"`
	SettledAt                pgtype.Timestamptz `json:"settled_at"`
	RejectionReason          pgtype.Text        `json:"rejection_reason"`
	FailureReason            pgtype.Text        `json:"failure_reason"`
	CapturedPaymentReference pgtype.Text        `json:"captured_payment_reference"`
	AuthorizationHandle      string             `json:"authorization_handle"`
	AuthorizedAt             time.Time          `json:"authorized_at"`
	OriginalCaptureReference pgtype.Text        `json:"original_capture_reference"`
	Version                  int32              `json:"version"`
	CreatedAt                time.Time          `json:"created_at"`
	UpdatedAt                time.Time          `json:"updated_at"`
}

type AdjustmentTransition struct {
	ID           uuid.UUID   `json:"id"`
	AdjustmentID uuid.UUID   `json:"adjustment_id"`
	FromStatus   string      `json:"from_status"`
	ToStatus     string      `json:"to_status"`
	Reason       pgtype.Text `json:"reason"`
	Actor        string      `json:"actor"`
	OccurredAt   time.Time   `json:"occurred_at"`
}
