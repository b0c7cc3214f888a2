package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const adjustmentColumns = `id, order_id, status, estimated_weight_grams, actual_weight_grams, weight_difference_grams,
    price_per_unit, estimated_price, actual_price, price_difference, percent_difference,
    external_report_id, report_captured_at, received_at, decided_at, settled_at,
    rejection_reason, failure_reason, captured_payment_reference,
    authorization_handle, authorized_at, original_capture_reference,
    version, created_at, updated_at`

func scanAdjustment(row pgx.Row) (WeightAdjustment, error) {
	var i WeightAdjustment
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Status,
		&i.EstimatedWeightGrams,
		&i.ActualWeightGrams,
		&i.WeightDifferenceGrams,
		&i.PricePerUnit,
		&i.EstimatedPrice,
		&i.ActualPrice,
		&i.PriceDifference,
		&i.PercentDifference,
		&i.ExternalReportID,
		&i.ReportCapturedAt,
		&i.ReceivedAt,
		&i.DecidedAt,
		&i.SettledAt,
		&i.RejectionReason,
		&i.FailureReason,
		&i.CapturedPaymentReference,
		&i.AuthorizationHandle,
		&i.AuthorizedAt,
		&i.OriginalCaptureReference,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanAdjustments(rows pgx.Rows) ([]WeightAdjustment, error) {
	defer rows.Close()
	items := []WeightAdjustment{}
	for rows.Next() {
		i, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createAdjustment = `-- name: CreateAdjustment :one
INSERT INTO weight_adjustments (
    order_id, status, estimated_weight_grams, price_per_unit, estimated_price,
    authorization_handle, authorized_at, original_capture_reference
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING ` + adjustmentColumns

type CreateAdjustmentParams struct {
	OrderID                  uuid.UUID      `json:"order_id"`
	Status                   string         `json:"status"`
	EstimatedWeightGrams     int64          `json:"estimated_weight_grams"`
	PricePerUnit             pgtype.Numeric `json:"price_per_unit"`
	EstimatedPrice           pgtype.Numeric `json:"estimated_price"`
	AuthorizationHandle      string         `json:"authorization_handle"`
	AuthorizedAt             time.Time      `json:"authorized_at"`
	OriginalCaptureReference pgtype.Text    `json:"original_capture_reference"`
}

func (q *Queries) CreateAdjustment(ctx context.Context, arg CreateAdjustmentParams) (WeightAdjustment, error) {
	row := q.db.QueryRow(ctx, createAdjustment,
		arg.OrderID,
		arg.Status,
		arg.EstimatedWeightGrams,
		arg.PricePerUnit,
		arg.EstimatedPrice,
		arg.AuthorizationHandle,
		arg.AuthorizedAt,
		arg.OriginalCaptureReference,
	)
	return scanAdjustment(row)
}

const getAdjustment = `-- name: GetAdjustment :one
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE id = $1`

func (q *Queries) GetAdjustment(ctx context.Context, id uuid.UUID) (WeightAdjustment, error) {
	return scanAdjustment(q.db.QueryRow(ctx, getAdjustment, id))
}

const getAdjustmentByReportID = `-- name: GetAdjustmentByReportID :one
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE external_report_id = $1`

func (q *Queries) GetAdjustmentByReportID(ctx context.Context, externalReportID string) (WeightAdjustment, error) {
	return scanAdjustment(q.db.QueryRow(ctx, getAdjustmentByReportID, externalReportID))
}

const getLatestAdjustmentByOrder = `-- name: GetLatestAdjustmentByOrder :one
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE order_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetLatestAdjustmentByOrder(ctx context.Context, orderID uuid.UUID) (WeightAdjustment, error) {
	return scanAdjustment(q.db.QueryRow(ctx, getLatestAdjustmentByOrder, orderID))
}

const getOpenAdjustmentByOrder = `-- name: GetOpenAdjustmentByOrder :one
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE order_id = $1
  AND status NOT IN ('NO_DIFFERENCE', 'REJECTED_BY_ADMIN', 'COMPLETED', 'FAILED')`

func (q *Queries) GetOpenAdjustmentByOrder(ctx context.Context, orderID uuid.UUID) (WeightAdjustment, error) {
	return scanAdjustment(q.db.QueryRow(ctx, getOpenAdjustmentByOrder, orderID))
}

const listAdjustments = `-- name: ListAdjustments :many
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE ($1::text IS NULL OR status = $1::text)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

type ListAdjustmentsParams struct {
	Status pgtype.Text `json:"status"`
	Limit  int32       `json:"limit"`
	Offset int32       `json:"offset"`
}

func (q *Queries) ListAdjustments(ctx context.Context, arg ListAdjustmentsParams) ([]WeightAdjustment, error) {
	rows, err := q.db.Query(ctx, listAdjustments, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return scanAdjustments(rows)
}

const listAdjustmentsAuthorizedBefore = `-- name: ListAdjustmentsAuthorizedBefore :many
SELECT ` + adjustmentColumns + ` FROM weight_adjustments
WHERE status = ANY($1::text[])
  AND authorized_at < $2
  AND captured_payment_reference IS NULL
ORDER BY authorized_at ASC
LIMIT $3`

type ListAdjustmentsAuthorizedBeforeParams struct {
	Statuses         []string  `json:"statuses"`
	AuthorizedBefore time.Time `json:"authorized_before"`
	Limit            int32     `json:"limit"`
}

func (q *Queries) ListAdjustmentsAuthorizedBefore(ctx context.Context, arg ListAdjustmentsAuthorizedBeforeParams) ([]WeightAdjustment, error) {
	rows, err := q.db.Query(ctx, listAdjustmentsAuthorizedBefore, arg.Statuses, arg.AuthorizedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanAdjustments(rows)
}

const updateAdjustment = `-- name: UpdateAdjustment :one
UPDATE weight_adjustments SET
    status = $3,
    actual_weight_grams = $4,
    weight_difference_grams = $5,
    actual_price = $6,
    price_difference = $7,
    percent_difference = $8,
    external_report_id = $9,
    report_captured_at = $10,
    received_at = $11,
    decided_at = $12,
    settled_at = $13,
    rejection_reason = $14,
    failure_reason = $15,
    captured_payment_reference = COALESCE(captured_payment_reference, $16),
    version = version + 1,
    updated_at = now()
WHERE id = $1 AND version = $2
RETURNING ` + adjustmentColumns

// UpdateAdjustmentParams carries the full mutable state of a row. The row is
// only written when its version still equals Version; otherwise no row is
// returned.
type UpdateAdjustmentParams struct {
	ID                       uuid.UUID          `json:"id"`
	Version                  int32              `json:"version"`
	Status                   string             `json:"status"`
	ActualWeightGrams        pgtype.Int8        `json:"actual_weight_grams"`
	WeightDifferenceGrams    pgtype.Int8        `json:"weight_difference_grams"`
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
}

func (q *Queries) UpdateAdjustment(ctx context.Context, arg UpdateAdjustmentParams) (WeightAdjustment, error) {
	row := q.db.QueryRow(ctx, updateAdjustment,
		arg.ID,
		arg.Version,
		arg.Status,
		arg.ActualWeightGrams,
		arg.WeightDifferenceGrams,
		arg.ActualPrice,
		arg.PriceDifference,
		arg.PercentDifference,
		arg.ExternalReportID,
		arg.ReportCapturedAt,
		arg.ReceivedAt,
		arg.DecidedAt,
		arg.SettledAt,
		arg.RejectionReason,
		arg.FailureReason,
		arg.CapturedPaymentReference,
	)
	return scanAdjustment(row)
}

const createTransition = `-- name: CreateTransition :one
INSERT INTO adjustment_transitions (adjustment_id, from_status, to_status, reason, actor, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, adjustment_id, from_status, to_status, reason, actor, occurred_at`

type CreateTransitionParams struct {
	AdjustmentID uuid.UUID   `json:"adjustment_id"`
	FromStatus   string      `json:"from_status"`
	ToStatus     string      `json:"to_status"`
	Reason       pgtype.Text `json:"reason"`
	Actor        string      `json:"actor"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

func (q *Queries) CreateTransition(ctx context.Context, arg CreateTransitionParams) (AdjustmentTransition, error) {
	row := q.db.QueryRow(ctx, createTransition,
		arg.AdjustmentID,
		arg.FromStatus,
		arg.ToStatus,
		arg.Reason,
		arg.Actor,
		arg.OccurredAt,
	)
	var i AdjustmentTransition
	err := row.Scan(
		&i.ID,
		&i.AdjustmentID,
		&i.FromStatus,
		&i.ToStatus,
		&i.Reason,
		&i.Actor,
		&i.OccurredAt,
	)
	return i, err
}

const listTransitionsByAdjustment = `-- name: ListTransitionsByAdjustment :many
SELECT id, adjustment_id, from_status, to_status, reason, actor, occurred_at
FROM adjustment_transitions
WHERE adjustment_id = $1
ORDER BY seq ASC`

func (q *Queries) ListTransitionsByAdjustment(ctx context.Context, adjustmentID uuid.UUID) ([]AdjustmentTransition, error) {
	rows, err := q.db.Query(ctx, listTransitionsByAdjustment, adjustmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AdjustmentTransition{}
	for rows.Next() {
		var i AdjustmentTransition
		if err := rows.Scan(
			&i.ID,
			&i.AdjustmentID,
			&i.FromStatus,
			&i.ToStatus,
			&i.Reason,
			&i.Actor,
			&i.OccurredAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
