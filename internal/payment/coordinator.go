package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	breakerName             = "payment-provider"
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	breakerHalfOpenRequests = 1
)

// Settler is the slice of the state machine the coordinator drives.
// Satisfied by *settlement.Machine.
type Settler interface {
	Get(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error)
	Settle(ctx context.Context, id uuid.UUID, reference string, opts ...settlement.TransitionOption) (settlement.Adjustment, error)
	Fail(ctx context.Context, id uuid.UUID, reason string, opts ...settlement.TransitionOption) (settlement.Adjustment, error)
}

// Config holds the capture policy.
type Config struct {
	// PreAuthValidity is how long an authorization can still be captured.
	PreAuthValidity time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AsyncTimeout bounds a SettleAsync run.
	AsyncTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PreAuthValidity: 48 * time.Hour,
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		AsyncTimeout:    time.Minute,
	}
}

// Coordinator executes the payment action of a settleable adjustment and
// records the outcome through the state machine.
type Coordinator struct {
	machine  Settler
	provider Provider
	cfg      Config
	breaker  *gobreaker.CircuitBreaker
	group    singleflight.Group
	metrics  *metrics.Registry
	now      func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func WithCoordinatorMetrics(r *metrics.Registry) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = r }
}

func NewCoordinator(machine Settler, provider Provider, cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		machine:  machine,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARN: circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settle runs the payment action for an adjustment. Concurrent calls for
// the same adjustment share one execution. A provider failure is recorded
// as a Failed adjustment and is not returned as an error; errors are
// reserved for storage problems and cancellation, which leave the record
// settleable for a later attempt.
func (c *Coordinator) Settle(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error) {
	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		return c.settle(ctx, id)
	})
	if err != nil {
		return settlement.Adjustment{}, err
	}
	return v.(settlement.Adjustment), nil
}

// SettleAsync runs Settle in the background, detached from the caller's
// request, and logs the outcome.
func (c *Coordinator) SettleAsync(id uuid.UUID, trigger string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AsyncTimeout)
		defer cancel()

		a, err := c.Settle(ctx, id)
		if err != nil {
			log.Printf("ERROR: settle adjustment %s after %s: %v", id, trigger, err)
			return
		}
		if a.Status == enum.AdjustmentStatusFailed {
			log.Printf("WARN: adjustment %s failed after %s: %s", id, trigger, a.FailureReason)
		}
	}()
}

// ConfirmFromProvider records a reference reported by the provider's
// webhook. A record that already has a reference is left unchanged.
func (c *Coordinator) ConfirmFromProvider(ctx context.Context, id uuid.UUID, reference string) (settlement.Adjustment, error) {
	return c.machine.Settle(ctx, id, reference, settlement.WithActor(enum.ActorProvider))
}

func (c *Coordinator) settle(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error) {
	adj, err := c.machine.Get(ctx, id)
	if err != nil {
		return settlement.Adjustment{}, err
	}
	if adj.Status.IsTerminal() {
		return adj, nil
	}
	if adj.CapturedPaymentReference != "" {
		return c.machine.Settle(ctx, id, adj.CapturedPaymentReference)
	}
	if !adj.Status.IsSettleable() {
		return settlement.Adjustment{}, fmt.Errorf("%w: adjustment %s is %s, nothing to settle",
			settlement.ErrPreconditionFailed, id, adj.Status)
	}

	var op Operation
	switch adj.PriceDifference.Sign() {
	case 1:
		op = OpCapture
		if expiry := adj.Authorization.AuthorizedAt.Add(c.cfg.PreAuthValidity); c.now().After(expiry) {
			return c.fail(ctx, adj, fmt.Errorf("%w at %s", ErrAuthorizationExpired, expiry.Format(time.RFC3339)))
		}
	case -1:
		op = OpRefund
		if adj.Authorization.CaptureReference == "" {
			return c.fail(ctx, adj, errors.New("refund: no original capture to refund against"))
		}
	default:
		return settlement.Adjustment{}, fmt.Errorf("%w: adjustment %s has no price difference",
			settlement.ErrPreconditionFailed, id)
	}

	ref, err := c.execute(ctx, op, adj)
	if err != nil {
		if ctx.Err() != nil {
			return settlement.Adjustment{}, fmt.Errorf("%s adjustment %s: %w", op, id, err)
		}
		return c.fail(ctx, adj, err)
	}

	done, err := c.machine.Settle(ctx, id, ref, settlement.WithActor(enum.ActorProvider))
	if err != nil {
		// Money has moved; keep the reference in the log for reconciliation.
		log.Printf("ERROR: %s %s succeeded for adjustment %s but recording it failed: %v", op, ref, id, err)
		return settlement.Adjustment{}, err
	}
	return done, nil
}

// execute calls the provider with retries behind the circuit breaker.
func (c *Coordinator) execute(ctx context.Context, op Operation, adj settlement.Adjustment) (string, error) {
	key := IdempotencyKey(adj.ID, op)
	amount := adj.PriceDifference.Abs()

	var ref string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		start := time.Now()
		res, err := c.breaker.Execute(func() (interface{}, error) {
			var r string
			var err error
			if op == OpCapture {
				r, err = c.provider.Capture(ctx, adj.Authorization.Handle, amount, key)
			} else {
				r, err = c.provider.Refund(ctx, adj.Authorization.CaptureReference, amount, key)
			}
			if err != nil && !IsRetryable(err) {
				// A rejected request still means the provider is up.
				return callResult{err: err}, nil
			}
			return callResult{ref: r}, err
		})
		if err == nil {
			err = res.(callResult).err
		}
		c.metrics.ObserveProviderCall(string(op), outcome(err), time.Since(start))

		if err == nil {
			ref = res.(callResult).ref
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		log.Printf("WARN: %s attempt %d for adjustment %s: %v", op, attempt, adj.ID, err)
		return err
	}, c.newBackOff(ctx))
	if err != nil {
		return "", err
	}
	return ref, nil
}

type callResult struct {
	ref string
	err error
}

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)
}

func (c *Coordinator) fail(ctx context.Context, adj settlement.Adjustment, cause error) (settlement.Adjustment, error) {
	failed, err := c.machine.Fail(ctx, adj.ID, failureReason(cause), settlement.WithActor(enum.ActorProvider))
	if err != nil {
		// Settled or cancelled in the meantime; report what is stored.
		if errors.Is(err, settlement.ErrPreconditionFailed) {
			return c.machine.Get(ctx, adj.ID)
		}
		return settlement.Adjustment{}, fmt.Errorf("record failure of adjustment %s: %w", adj.ID, err)
	}
	return failed, nil
}

func failureReason(err error) string {
	if errors.Is(err, ErrAuthorizationExpired) {
		return "authorization expired"
	}
	return err.Error()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "short_circuited"
	case IsRetryable(err):
		return "transient"
	default:
		return "permanent"
	}
}
