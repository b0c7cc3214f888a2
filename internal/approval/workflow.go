// Package approval is the admin-facing side of the settlement lifecycle.
package approval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/policy"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
)

const triggerAdminApproval = "admin approval"

// Machine is satisfied by *settlement.Machine.
type Machine interface {
	Get(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error)
	AdminApprove(ctx context.Context, id uuid.UUID, opts ...settlement.TransitionOption) (settlement.Adjustment, error)
	AdminReject(ctx context.Context, id uuid.UUID, reason string, opts ...settlement.TransitionOption) (settlement.Adjustment, error)
	Evaluate(a settlement.Adjustment) (policy.Evaluation, bool)
	Thresholds() policy.Thresholds
}

// Settler is satisfied by *payment.Coordinator.
type Settler interface {
	SettleAsync(id uuid.UUID, trigger string)
}

// Decision identifies the admin acting and, optionally, the version of the
// record they were looking at.
type Decision struct {
	AdjustmentID    uuid.UUID
	AdminID         uuid.UUID
	ExpectedVersion *int32
}

func (d Decision) options() []settlement.TransitionOption {
	actor := enum.ActorAdmin
	if d.AdminID != uuid.Nil {
		actor = enum.ActorAdmin + ":" + d.AdminID.String()
	}
	opts := []settlement.TransitionOption{settlement.WithActor(actor)}
	if d.ExpectedVersion != nil {
		opts = append(opts, settlement.WithExpectedVersion(*d.ExpectedVersion))
	}
	return opts
}

type Workflow struct {
	machine Machine
	settler Settler
}

func NewWorkflow(machine Machine, settler Settler) *Workflow {
	return &Workflow{machine: machine, settler: settler}
}

// Approve records the admin approval and starts the payment action in the
// background. The returned record is the approved one; the payment outcome
// arrives later as an event.
func (w *Workflow) Approve(ctx context.Context, d Decision) (settlement.Adjustment, error) {
	a, err := w.machine.AdminApprove(ctx, d.AdjustmentID, d.options()...)
	if err != nil {
		return settlement.Adjustment{}, err
	}
	w.settler.SettleAsync(a.ID, triggerAdminApproval)
	return a, nil
}

// Reject closes the adjustment without payment.
func (w *Workflow) Reject(ctx context.Context, d Decision, reason string) (settlement.Adjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return settlement.Adjustment{}, fmt.Errorf("%w: reason is required", settlement.ErrValidation)
	}
	return w.machine.AdminReject(ctx, d.AdjustmentID, reason, d.options()...)
}

// Detail is what the admin screen renders for one adjustment.
type Detail struct {
	Adjustment settlement.Adjustment `json:"adjustment"`
	Evaluation *policy.Evaluation    `json:"evaluation,omitempty"`
	Thresholds policy.Thresholds     `json:"thresholds"`
}

func (w *Workflow) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	a, err := w.machine.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Adjustment: a, Thresholds: w.machine.Thresholds()}
	if ev, ok := w.machine.Evaluate(a); ok {
		d.Evaluation = &ev
	}
	return d, nil
}
