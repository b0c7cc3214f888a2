// Package sweep escalates approved adjustments whose payment authorization
// is about to lapse, so the capture is attempted while it can still succeed.
package sweep

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"golang.org/x/sync/errgroup"
)

// Source lists uncaptured adjustments authorized before a cutoff.
// Satisfied by *settlement.Machine.
type Source interface {
	ListAuthorizedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error)
}

// Settler is satisfied by *payment.Coordinator.
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error)
}

type Config struct {
	Interval         time.Duration
	EscalationWindow time.Duration
	PreAuthValidity  time.Duration
	BatchSize        int32
	Concurrency      int
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		EscalationWindow: 6 * time.Hour,
		PreAuthValidity:  48 * time.Hour,
		BatchSize:        100,
		Concurrency:      4,
	}
}

type Sweeper struct {
	source  Source
	settler Settler
	cfg     Config
	metrics *metrics.Registry
	now     func() time.Time
}

func New(source Source, settler Settler, cfg Config, m *metrics.Registry) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Sweeper{source: source, settler: settler, cfg: cfg, metrics: m, now: time.Now}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ERROR: authorization sweep: %v", err)
			}
		}
	}
}

// RunOnce settles every adjustment whose authorization expires within the
// escalation window and returns how many were escalated.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	// authorizedAt + validity < now + window
	cutoff := s.now().Add(s.cfg.EscalationWindow - s.cfg.PreAuthValidity)

	due, err := s.source.ListAuthorizedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var escalated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, a := range due {
		id := a.ID
		g.Go(func() error {
			res, err := s.settler.Settle(gctx, id)
			if err != nil {
				log.Printf("WARN: sweep could not settle adjustment %s: %v", id, err)
				return nil
			}
			escalated.Add(1)
			if res.Status == enum.AdjustmentStatusFailed {
				log.Printf("WARN: sweep: adjustment %s failed: %s", id, res.FailureReason)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(escalated.Load())
	s.metrics.ObserveSweep(n)
	if n > 0 {
		log.Printf("sweep: escalated %d of %d adjustment(s) nearing authorization expiry", n, len(due))
	}
	return n, nil
}
