// Package settlement owns the lifecycle of weight adjustments. Every status
// change goes through Machine, which checks it against the transition table,
// writes it under an optimistic version guard together with its audit rows,
// and emits a domain event once the transaction has committed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/weighsettle/internal/database"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/events"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/variance"
	"github.com/shopspring/decimal"
)

const (
	maxCancelRetries = 3

	// ReasonOrderCancelled is recorded when an order is cancelled mid-settlement.
	ReasonOrderCancelled = "order cancelled"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods the machine needs.
// Satisfied by *database.Queries (and its WithTx variant).
type Store interface {
	CreateAdjustment(ctx context.Context, arg database.CreateAdjustmentParams) (database.WeightAdjustment, error)
	GetAdjustment(ctx context.Context, id uuid.UUID) (database.WeightAdjustment, error)
	GetAdjustmentByReportID(ctx context.Context, externalReportID string) (database.WeightAdjustment, error)
	GetLatestAdjustmentByOrder(ctx context.Context, orderID uuid.UUID) (database.WeightAdjustment, error)
	GetOpenAdjustmentByOrder(ctx context.Context, orderID uuid.UUID) (database.WeightAdjustment, error)
	ListAdjustments(ctx context.Context, arg database.ListAdjustmentsParams) ([]database.WeightAdjustment, error)
	ListAdjustmentsAuthorizedBefore(ctx context.Context, arg database.ListAdjustmentsAuthorizedBeforeParams) ([]database.WeightAdjustment, error)
	UpdateAdjustment(ctx context.Context, arg database.UpdateAdjustmentParams) (database.WeightAdjustment, error)
	CreateTransition(ctx context.Context, arg database.CreateTransitionParams) (database.AdjustmentTransition, error)
	ListTransitionsByAdjustment(ctx context.Context, adjustmentID uuid.UUID) ([]database.AdjustmentTransition, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Machine is the settlement state machine.
type Machine struct {
	store     Store
	pool      TxBeginner
	newStore  NewStore
	engine    *policy.Engine
	publisher events.Publisher
	metrics   *metrics.Registry
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithMetrics records transitions and policy decisions.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Machine) { m.metrics = r }
}

// NewMachine creates a Machine. store serves reads outside transactions;
// writes go through newStore bound to a transaction from pool.
func NewMachine(store Store, pool TxBeginner, newStore NewStore, engine *policy.Engine, publisher events.Publisher, opts ...Option) *Machine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	m := &Machine{
		store:     store,
		pool:      pool,
		newStore:  newStore,
		engine:    engine,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TransitionOption adjusts a single transition call.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	expectedVersion *int32
	actor           string
}

// WithExpectedVersion rejects the call with ErrConcurrentModification when
// the stored version differs from v.
func WithExpectedVersion(v int32) TransitionOption {
	return func(o *transitionOpts) { o.expectedVersion = &v }
}

// WithActor sets the actor recorded in the audit trail.
func WithActor(actor string) TransitionOption {
	return func(o *transitionOpts) { o.actor = actor }
}

func buildOpts(defaultActor string, opts []TransitionOption) transitionOpts {
	o := transitionOpts{actor: defaultActor}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// step is one hop through the transition table.
type step struct {
	to     enum.AdjustmentStatus
	reason string
}

// --- Commands ---

// RegisterRequest flags an order as weight-based.
type RegisterRequest struct {
	OrderID              uuid.UUID
	EstimatedWeightGrams int64
	PricePerKg           decimal.Decimal
	Authorization        Authorization
}

// Register creates the PendingWeighing record for an order.
func (m *Machine) Register(ctx context.Context, req RegisterRequest) (Adjustment, error) {
	if req.OrderID == uuid.Nil {
		return Adjustment{}, fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Authorization.Handle) == "" || req.Authorization.AuthorizedAt.IsZero() {
		return Adjustment{}, fmt.Errorf("%w: payment authorization is required", ErrValidation)
	}
	// price_per_unit is stored at cent precision.
	if !req.PricePerKg.Equal(req.PricePerKg.Round(2)) {
		return Adjustment{}, fmt.Errorf("%w: price_per_kg must have at most 2 decimal places", ErrValidation)
	}
	estimate, err := variance.Compute(req.EstimatedWeightGrams, req.EstimatedWeightGrams, req.PricePerKg)
	if err != nil {
		return Adjustment{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if _, err := m.store.GetOpenAdjustmentByOrder(ctx, req.OrderID); err == nil {
		return Adjustment{}, fmt.Errorf("%w: order %s already has an open adjustment", ErrPreconditionFailed, req.OrderID)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, fmt.Errorf("get open adjustment: %w", err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Adjustment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	qtx := m.newStore(tx)

	row, err := qtx.CreateAdjustment(ctx, database.CreateAdjustmentParams{
		OrderID:                  req.OrderID,
		Status:                   enum.AdjustmentStatusPendingWeighing.String(),
		EstimatedWeightGrams:     req.EstimatedWeightGrams,
		PricePerUnit:             decimalToNumeric(req.PricePerKg, 2),
		EstimatedPrice:           decimalToNumeric(estimate.EstimatedPrice, 2),
		AuthorizationHandle:      req.Authorization.Handle,
		AuthorizedAt:             req.Authorization.AuthorizedAt,
		OriginalCaptureReference: textFrom(req.Authorization.CaptureReference),
	})
	if err != nil {
		if isUniqueViolation(err, constraintOpenOrder) {
			return Adjustment{}, fmt.Errorf("%w: order %s already has an open adjustment", ErrPreconditionFailed, req.OrderID)
		}
		return Adjustment{}, fmt.Errorf("create adjustment: %w", err)
	}

	if _, err := qtx.CreateTransition(ctx, database.CreateTransitionParams{
		AdjustmentID: row.ID,
		FromStatus:   "",
		ToStatus:     row.Status,
		Reason:       pgtype.Text{String: "registered", Valid: true},
		Actor:        enum.ActorSystem,
		OccurredAt:   m.now(),
	}); err != nil {
		return Adjustment{}, fmt.Errorf("create transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Adjustment{}, fmt.Errorf("commit tx: %w", err)
	}

	m.metrics.ObserveTransition(row.Status)
	return fromRow(row), nil
}

// Report is a post-pick weight report.
type Report struct {
	OrderID           uuid.UUID
	ExternalReportID  string
	ActualWeightGrams int64
	CapturedAt        time.Time
}

// IngestResult is the outcome of IngestReport. Duplicate is set when the
// report id had already been applied and nothing was written.
type IngestResult struct {
	Adjustment Adjustment
	Evaluation policy.Evaluation
	Duplicate  bool
}

// IngestReport applies a weight report: PendingWeighing -> Weighed -> the
// policy decision. It is idempotent on ExternalReportID.
func (m *Machine) IngestReport(ctx context.Context, r Report) (IngestResult, error) {
	r.ExternalReportID = strings.TrimSpace(r.ExternalReportID)
	if r.OrderID == uuid.Nil {
		return IngestResult{}, fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	if r.ExternalReportID == "" {
		return IngestResult{}, fmt.Errorf("%w: external_report_id is required", ErrValidation)
	}
	if r.ActualWeightGrams < 0 {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrValidation, variance.ErrNegativeWeight)
	}

	if res, ok, err := m.existingReport(ctx, r); ok || err != nil {
		return res, err
	}

	row, err := m.store.GetLatestAdjustmentByOrder(ctx, r.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IngestResult{}, fmt.Errorf("%w: order %s is not weight-based", ErrNotFound, r.OrderID)
		}
		return IngestResult{}, fmt.Errorf("get adjustment by order: %w", err)
	}
	cur := fromRow(row)
	if cur.Status != enum.AdjustmentStatusPendingWeighing {
		return IngestResult{}, fmt.Errorf("%w: adjustment %s is %s, cannot accept report %s",
			ErrPreconditionFailed, cur.ID, cur.Status, r.ExternalReportID)
	}

	v, err := variance.Compute(cur.EstimatedWeightGrams, r.ActualWeightGrams, cur.PricePerUnit)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ev := m.engine.Evaluate(v)

	now := m.now()
	next := cur
	next.ActualWeightGrams = &r.ActualWeightGrams
	next.WeightDifferenceGrams = &v.WeightDiffGrams
	next.ActualPrice = decimal.NullDecimal{Decimal: v.ActualPrice, Valid: true}
	next.PriceDifference = v.PriceDiff
	next.PercentDifference = v.PercentDiff
	next.ExternalReportID = r.ExternalReportID
	if !r.CapturedAt.IsZero() {
		next.ReportCapturedAt = &r.CapturedAt
	}
	next.ReceivedAt = &now
	next.DecidedAt = &now

	target := statusForDecision(ev.Decision)
	updated, err := m.commit(ctx, cur, next, enum.ActorSystem,
		step{to: enum.AdjustmentStatusWeighed, reason: "report " + r.ExternalReportID},
		step{to: target, reason: ev.Reason()},
	)
	if err != nil {
		// A concurrent duplicate won the race; hand back the winner's record.
		if isUniqueViolation(err, constraintReportID) || errors.Is(err, ErrConcurrentModification) {
			if res, ok, rerr := m.existingReport(ctx, r); ok || rerr != nil {
				return res, rerr
			}
		}
		return IngestResult{}, err
	}

	m.metrics.ObserveDecision(string(ev.Decision))
	switch target {
	case enum.AdjustmentStatusPendingAdminApproval:
		m.publish(ctx, enum.EventAdjustmentRequiresApproval, updated, ev.Reason())
	case enum.AdjustmentStatusAutoApproved:
		m.publish(ctx, enum.EventAdjustmentApproved, updated, ev.Reason())
	}

	return IngestResult{Adjustment: updated, Evaluation: ev}, nil
}

// existingReport returns the record a report id was already applied to.
func (m *Machine) existingReport(ctx context.Context, r Report) (IngestResult, bool, error) {
	row, err := m.store.GetAdjustmentByReportID(ctx, r.ExternalReportID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IngestResult{}, false, nil
		}
		return IngestResult{}, false, fmt.Errorf("get adjustment by report: %w", err)
	}
	existing := fromRow(row)
	if existing.OrderID != r.OrderID {
		return IngestResult{}, false, fmt.Errorf("%w: report %s belongs to order %s",
			ErrPreconditionFailed, r.ExternalReportID, existing.OrderID)
	}
	ev, _ := m.Evaluate(existing)
	return IngestResult{Adjustment: existing, Evaluation: ev, Duplicate: true}, true, nil
}

func statusForDecision(d policy.Decision) enum.AdjustmentStatus {
	switch d {
	case policy.DecisionNoDifference:
		return enum.AdjustmentStatusNoDifference
	case policy.DecisionAutoApproved:
		return enum.AdjustmentStatusAutoApproved
	default:
		return enum.AdjustmentStatusPendingAdminApproval
	}
}

// AdminApprove moves a PendingAdminApproval record to the payment state
// matching the sign of its price difference.
func (m *Machine) AdminApprove(ctx context.Context, id uuid.UUID, opts ...TransitionOption) (Adjustment, error) {
	o := buildOpts(enum.ActorAdmin, opts)
	cur, err := m.load(ctx, id, o)
	if err != nil {
		return Adjustment{}, err
	}
	if cur.Status != enum.AdjustmentStatusPendingAdminApproval {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is %s, not awaiting approval", ErrPreconditionFailed, id, cur.Status)
	}

	var target enum.AdjustmentStatus
	switch cur.PriceDifference.Sign() {
	case 1:
		target = enum.AdjustmentStatusPendingAdditionalPayment
	case -1:
		target = enum.AdjustmentStatusPendingRefund
	default:
		return Adjustment{}, fmt.Errorf("%w: adjustment %s has no price difference", ErrPreconditionFailed, id)
	}

	now := m.now()
	next := cur
	next.DecidedAt = &now

	updated, err := m.commit(ctx, cur, next, o.actor, step{to: target, reason: "approved by admin"})
	if err != nil {
		return Adjustment{}, err
	}
	m.publish(ctx, enum.EventAdjustmentApproved, updated, "")
	return updated, nil
}

// AdminReject closes a PendingAdminApproval record without payment.
func (m *Machine) AdminReject(ctx context.Context, id uuid.UUID, reason string, opts ...TransitionOption) (Adjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Adjustment{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	o := buildOpts(enum.ActorAdmin, opts)
	cur, err := m.load(ctx, id, o)
	if err != nil {
		return Adjustment{}, err
	}
	if cur.Status != enum.AdjustmentStatusPendingAdminApproval {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is %s, not awaiting approval", ErrPreconditionFailed, id, cur.Status)
	}

	now := m.now()
	next := cur
	next.RejectionReason = reason
	next.DecidedAt = &now

	updated, err := m.commit(ctx, cur, next, o.actor, step{to: enum.AdjustmentStatusRejectedByAdmin, reason: reason})
	if err != nil {
		return Adjustment{}, err
	}
	m.publish(ctx, enum.EventAdjustmentRejected, updated, reason)
	return updated, nil
}

// Settle completes a settleable record and records the payment reference.
// A record that already carries a reference is returned unchanged.
func (m *Machine) Settle(ctx context.Context, id uuid.UUID, reference string, opts ...TransitionOption) (Adjustment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Adjustment{}, fmt.Errorf("%w: payment reference is required", ErrValidation)
	}

	o := buildOpts(enum.ActorSystem, opts)
	cur, err := m.load(ctx, id, o)
	if err != nil {
		return Adjustment{}, err
	}
	if cur.CapturedPaymentReference != "" {
		return cur, nil
	}
	if !cur.Status.IsSettleable() {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is %s, nothing to settle", ErrPreconditionFailed, id, cur.Status)
	}

	now := m.now()
	next := cur
	next.CapturedPaymentReference = reference
	next.SettledAt = &now

	updated, err := m.commit(ctx, cur, next, o.actor, step{to: enum.AdjustmentStatusCompleted, reason: "payment " + reference})
	if err != nil {
		return Adjustment{}, err
	}
	m.publish(ctx, enum.EventAdjustmentSettled, updated, "")
	return updated, nil
}

// Fail moves any non-terminal record to Failed.
func (m *Machine) Fail(ctx context.Context, id uuid.UUID, reason string, opts ...TransitionOption) (Adjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Adjustment{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	o := buildOpts(enum.ActorSystem, opts)
	cur, err := m.load(ctx, id, o)
	if err != nil {
		return Adjustment{}, err
	}
	return m.fail(ctx, cur, reason, o.actor)
}

func (m *Machine) fail(ctx context.Context, cur Adjustment, reason, actor string) (Adjustment, error) {
	if cur.Status.IsTerminal() {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is already %s", ErrPreconditionFailed, cur.ID, cur.Status)
	}

	next := cur
	next.FailureReason = reason

	updated, err := m.commit(ctx, cur, next, actor, step{to: enum.AdjustmentStatusFailed, reason: reason})
	if err != nil {
		return Adjustment{}, err
	}
	m.publish(ctx, enum.EventAdjustmentFailed, updated, reason)
	return updated, nil
}

// CancelOrder fails the order's open record without touching payment.
// It returns nil when the order has no open record.
func (m *Machine) CancelOrder(ctx context.Context, orderID uuid.UUID) (*Adjustment, error) {
	for attempt := 0; attempt < maxCancelRetries; attempt++ {
		row, err := m.store.GetOpenAdjustmentByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("get open adjustment: %w", err)
		}

		failed, err := m.fail(ctx, fromRow(row), ReasonOrderCancelled, enum.ActorSystem)
		if err == nil {
			return &failed, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("cancel order %s: %w", orderID, ErrConcurrentModification)
}

// --- Internals ---

func (m *Machine) load(ctx context.Context, id uuid.UUID, o transitionOpts) (Adjustment, error) {
	cur, err := m.Get(ctx, id)
	if err != nil {
		return Adjustment{}, err
	}
	if o.expectedVersion != nil && *o.expectedVersion != cur.Version {
		return Adjustment{}, fmt.Errorf("%w: adjustment %s is at version %d, expected %d",
			ErrConcurrentModification, id, cur.Version, *o.expectedVersion)
	}
	return cur, nil
}

// commit writes next over cur in one transaction: the row update guarded by
// cur.Version plus one audit row per step. next.Status is set from the last
// step.
func (m *Machine) commit(ctx context.Context, cur, next Adjustment, actor string, steps ...step) (Adjustment, error) {
	from := cur.Status
	for _, s := range steps {
		if !from.CanTransitionTo(s.to) {
			return Adjustment{}, fmt.Errorf("%w: %s -> %s is not allowed", ErrPreconditionFailed, from, s.to)
		}
		from = s.to
	}
	next.Status = from

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Adjustment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	qtx := m.newStore(tx)

	row, err := qtx.UpdateAdjustment(ctx, next.updateParams(cur.Version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w: adjustment %s changed since version %d", ErrConcurrentModification, cur.ID, cur.Version)
		}
		return Adjustment{}, fmt.Errorf("update adjustment: %w", err)
	}

	now := m.now()
	from = cur.Status
	for _, s := range steps {
		if _, err := qtx.CreateTransition(ctx, database.CreateTransitionParams{
			AdjustmentID: cur.ID,
			FromStatus:   from.String(),
			ToStatus:     s.to.String(),
			Reason:       textFrom(s.reason),
			Actor:        actor,
			OccurredAt:   now,
		}); err != nil {
			return Adjustment{}, fmt.Errorf("create transition: %w", err)
		}
		from = s.to
	}

	if err := tx.Commit(ctx); err != nil {
		return Adjustment{}, fmt.Errorf("commit tx: %w", err)
	}

	for _, s := range steps {
		m.metrics.ObserveTransition(s.to.String())
	}
	return fromRow(row), nil
}

func (m *Machine) publish(ctx context.Context, eventType string, a Adjustment, reason string) {
	m.publisher.Publish(ctx, events.Event{
		ID:              uuid.New(),
		Type:            eventType,
		AdjustmentID:    a.ID,
		OrderID:         a.OrderID,
		Status:          a.Status.String(),
		PriceDifference: a.PriceDifference,
		Reason:          reason,
		Version:         a.Version,
		OccurredAt:      m.now(),
	})
}
