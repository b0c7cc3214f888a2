// Package gate decides whether a courier may mark an order delivered.
package gate

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

// ReasonPendingAdminApproval is the blocked reason shown to the courier.
const ReasonPendingAdminApproval = "PendingAdminApproval"

// Reader returns the latest adjustment of an order.
// Satisfied by *settlement.Machine.
type Reader interface {
	GetByOrder(ctx context.Context, orderID uuid.UUID) (settlement.Adjustment, error)
}

// Decision is the gate outcome for one order.
type Decision struct {
	Allowed       bool                  `json:"allowed"`
	BlockedReason string                `json:"blocked_reason,omitempty"`
	Status        enum.AdjustmentStatus `json:"status"`
	AdjustmentID  *uuid.UUID            `json:"adjustment_id,omitempty"`
}

type Gate struct {
	reader  Reader
	metrics *metrics.Registry
}

func New(reader Reader, m *metrics.Registry) *Gate {
	return &Gate{reader: reader, metrics: m}
}

// CanMarkDelivered reads the latest persisted state on every call. Delivery
// is blocked only while an admin decision is outstanding; orders without an
// adjustment are NotApplicable and allowed.
func (g *Gate) CanMarkDelivered(ctx context.Context, orderID uuid.UUID) (Decision, error) {
	a, err := g.reader.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			g.metrics.ObserveGate(true)
			return Decision{Allowed: true, Status: enum.AdjustmentStatusNotApplicable}, nil
		}
		return Decision{}, err
	}

	d := Decision{Allowed: true, Status: a.Status, AdjustmentID: &a.ID}
	if a.Status == enum.AdjustmentStatusPendingAdminApproval {
		d.Allowed = false
		d.BlockedReason = ReasonPendingAdminApproval
	}
	g.metrics.ObserveGate(d.Allowed)
	return d, nil
}
