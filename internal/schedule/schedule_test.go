package schedule

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/spendcat/internal/errors"
	"github.com/hpungsan/spendcat/internal/retrain"
)

type fakeRetrainer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRetrainer) Retrain(ctx context.Context) (*retrain.Result, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &retrain.Result{Version: int(n)}, nil
}

// every fires at a fixed interval.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestParse(t *testing.T) {
	for _, expr := range []string{"0 3 * * *", "*/15 * * * 1-5", " 0 0 1 * * "} {
		_, err := Parse(expr)
		require.NoError(t, err, expr)
	}
	for _, expr := range []string{"", "every day", "0 3 * *", "61 * * * *"} {
		_, err := Parse(expr)
		require.True(t, errors.Is(err, errors.ErrInvalidRequest), expr)
	}
}

func TestNext(t *testing.T) {
	s, err := New("0 3 * * *", &fakeRetrainer{}, nil)
	require.NoError(t, err)

	from := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 1, 11, 3, 0, 0, 0, time.UTC), s.Next(from))
}

func TestRun_RetrainsUntilCancelled(t *testing.T) {
	r := &fakeRetrainer{}
	s, err := New("0 3 * * *", r, zap.NewNop())
	require.NoError(t, err)
	s.sched = every(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTick_LogsOutcome(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		level   string
		message string
	}{
		{"success", nil, "info", "scheduled retrain complete"},
		{"in progress", errors.NewConflict("a retrain is already in progress"), "info", "scheduled retrain skipped, another retrain is running"},
		{"failure", errors.NewRetrainingFailed(stderrors.New("boom")), "error", "scheduled retrain failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			s, err := New("0 3 * * *", &fakeRetrainer{err: tc.err}, zap.New(core))
			require.NoError(t, err)

			s.tick(context.Background())

			entries := logs.FilterMessage(tc.message).All()
			require.Len(t, entries, 1)
			require.Equal(t, tc.level, entries[0].Level.String())
		})
	}
}
