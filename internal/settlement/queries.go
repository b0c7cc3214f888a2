package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/variance"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Get returns the adjustment with the given id.
func (m *Machine) Get(ctx context.Context, id uuid.UUID) (Adjustment, error) {
	row, err := m.store.GetAdjustment(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Adjustment{}, fmt.Errorf("get adjustment: %w", err)
	}
	return fromRow(row), nil
}

// GetByOrder returns the most recent adjustment of an order. ErrNotFound
// means the order is not weight-based (NotApplicable).
func (m *Machine) GetByOrder(ctx context.Context, orderID uuid.UUID) (Adjustment, error) {
	row, err := m.store.GetLatestAdjustmentByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return Adjustment{}, fmt.Errorf("get adjustment by order: %w", err)
	}
	return fromRow(row), nil
}

// ListFilter selects adjustments for List. A zero Status lists all.
type ListFilter struct {
	Status enum.AdjustmentStatus
	Limit  int32
	Offset int32
}

// List returns adjustments newest first.
func (m *Machine) List(ctx context.Context, f ListFilter) ([]Adjustment, error) {
	params := database.ListAdjustmentsParams{Limit: f.Limit, Offset: f.Offset}
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
		}
		params.Status = pgtype.Text{String: f.Status.String(), Valid: true}
	}
	if params.Limit <= 0 {
		params.Limit = DefaultListLimit
	}
	if params.Limit > MaxListLimit {
		params.Limit = MaxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	rows, err := m.store.ListAdjustments(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	out := make([]Adjustment, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// History returns the audit trail of an adjustment, oldest first.
func (m *Machine) History(ctx context.Context, id uuid.UUID) ([]Transition, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := m.store.ListTransitionsByAdjustment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	out := make([]Transition, 0, len(rows))
	for _, r := range rows {
		out = append(out, transitionFromRow(r))
	}
	return out, nil
}

// ListAuthorizedBefore returns uncaptured records awaiting a capture or
// refund whose authorization was taken before cutoff, oldest first.
func (m *Machine) ListAuthorizedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]Adjustment, error) {
	rows, err := m.store.ListAdjustmentsAuthorizedBefore(ctx, database.ListAdjustmentsAuthorizedBeforeParams{
		Statuses: []string{
			enum.AdjustmentStatusAutoApproved.String(),
			enum.AdjustmentStatusPendingAdditionalPayment.String(),
			enum.AdjustmentStatusPendingRefund.String(),
		},
		AuthorizedBefore: cutoff,
		Limit:            limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list adjustments authorized before: %w", err)
	}
	out := make([]Adjustment, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Thresholds returns the policy thresholds in force.
func (m *Machine) Thresholds() policy.Thresholds {
	return m.engine.Thresholds()
}

// Evaluate re-runs the policy over a weighed record. The second result is
// false when no report has been applied yet.
func (m *Machine) Evaluate(a Adjustment) (policy.Evaluation, bool) {
	if !a.Weighed() {
		return policy.Evaluation{}, false
	}
	v, err := variance.Compute(a.EstimatedWeightGrams, *a.ActualWeightGrams, a.PricePerUnit)
	if err != nil {
		return policy.Evaluation{}, false
	}
	return m.engine.Evaluate(v), true
}
