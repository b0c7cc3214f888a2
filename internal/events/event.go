// Package events carries adjustment lifecycle events to downstream consumers.
// Publishing is fire-and-forget: sinks log their own failures and never
// report them back to the caller.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errDropped = errors.New("event dropped")

// Event is the payload emitted after a committed status change.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	Type            string          `json:"type"`
	AdjustmentID    uuid.UUID       `json:"adjustment_id"`
	OrderID         uuid.UUID       `json:"order_id"`
	Status          string          `json:"status"`
	PriceDifference decimal.Decimal `json:"price_difference"`
	Reason          string          `json:"reason,omitempty"`
	Version         int32           `json:"version"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
