// Package payment drives captures and refunds for approved weight
// adjustments against the payment provider.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// ErrAuthorizationExpired is returned when a capture is attempted past the
// validity window of the original authorization.
var ErrAuthorizationExpired = errors.New("payment authorization expired")

// Operation is a provider call kind. It doubles as the idempotency key
// suffix and the metrics label.
type Operation string

const (
	OpAuthorize Operation = "authorize"
	OpCapture   Operation = "capture"
	OpRefund    Operation = "refund"
)

// ProviderError is a classified provider failure. Retryable errors are
// transient (timeouts, 5xx, rate limits); the rest will fail the same way
// on every attempt.
type ProviderError struct {
	Op         Operation
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider returned %d %s: %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. An open
// circuit counts as transient.
func IsRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// Authorization is the provider's view of an order's payment.
type Authorization struct {
	Handle           string    `json:"handle"`
	AuthorizedAt     time.Time `json:"authorized_at"`
	CaptureReference string    `json:"capture_reference"`
}

// Provider is the payment provider.
type Provider interface {
	Authorize(ctx context.Context, orderID uuid.UUID) (Authorization, error)
	Capture(ctx context.Context, handle string, amount decimal.Decimal, idempotencyKey string) (string, error)
	Refund(ctx context.Context, captureReference string, amount decimal.Decimal, idempotencyKey string) (string, error)
}

// IdempotencyKey is stable per adjustment and operation, so a retried or
// duplicated call can never move money twice.
func IdempotencyKey(adjustmentID uuid.UUID, op Operation) string {
	return "weight-adjustment:" + adjustmentID.String() + ":" + string(op)
}
