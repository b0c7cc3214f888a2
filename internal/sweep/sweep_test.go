package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	listFn func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error)
}

func (m *mockSource) ListAuthorizedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
	return m.listFn(ctx, cutoff, limit)
}

type mockSettler struct {
	settleFn func(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error)
}

func (m *mockSettler) Settle(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error) {
	return m.settleFn(ctx, id)
}

var now = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func adjustments(n int) []settlement.Adjustment {
	out := make([]settlement.Adjustment, n)
	for i := range out {
		out[i] = settlement.Adjustment{ID: uuid.New(), Status: enum.AdjustmentStatusAutoApproved}
	}
	return out
}

func TestRunOnce_UsesEscalationCutoff(t *testing.T) {
	var gotCutoff time.Time
	src := &mockSource{listFn: func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
		gotCutoff = cutoff
		assert.Equal(t, int32(100), limit)
		return nil, nil
	}}
	s := New(src, &mockSettler{}, DefaultConfig(), nil)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	// authorized more than 42h ago expires within the next 6h
	assert.Equal(t, now.Add(-42*time.Hour), gotCutoff)
}

func TestRunOnce_SettlesEachWithBoundedConcurrency(t *testing.T) {
	due := adjustments(10)
	src := &mockSource{listFn: func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
		return due, nil
	}}

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	settler := &mockSettler{settleFn: func(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		return settlement.Adjustment{ID: id, Status: enum.AdjustmentStatusCompleted}, nil
	}}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	n, err := New(src, settler, cfg, nil).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, n)
	assert.Len(t, seen, 10)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunOnce_OneFailureDoesNotStopOthers(t *testing.T) {
	due := adjustments(3)
	src := &mockSource{listFn: func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
		return due, nil
	}}
	settler := &mockSettler{settleFn: func(ctx context.Context, id uuid.UUID) (settlement.Adjustment, error) {
		if id == due[0].ID {
			return settlement.Adjustment{}, errors.New("db unavailable")
		}
		return settlement.Adjustment{ID: id, Status: enum.AdjustmentStatusFailed, FailureReason: "authorization expired"}, nil
	}}

	n, err := New(src, settler, DefaultConfig(), nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunOnce_ListError(t *testing.T) {
	src := &mockSource{listFn: func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
		return nil, errors.New("timeout")
	}}

	_, err := New(src, &mockSettler{}, DefaultConfig(), nil).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsWithContext(t *testing.T) {
	var runs atomic.Int32
	src := &mockSource{listFn: func(ctx context.Context, cutoff time.Time, limit int32) ([]settlement.Adjustment, error) {
		runs.Add(1)
		return nil, nil
	}}
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	s := New(src, &mockSettler{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Positive(t, runs.Load())
}
