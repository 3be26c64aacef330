package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoCancelsOnFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")

	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	s.Go("failing", func(context.Context) error { return boom })

	err := s.Wait(waitCtx(t))
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "failing")
	require.Error(t, s.Context().Err())
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("panicky", func(context.Context) error { panic("oops") })

	err := s.Wait(waitCtx(t))
	require.ErrorContains(t, err, "panic: oops")
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 1, snap[0].Panics)
	require.False(t, snap[0].Active)
}

func TestGoTreatsCanceledAsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	require.NoError(t, s.Wait(waitCtx(t)))
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, 2, s.Snapshot()[0].Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.GoRestart("broken", func(context.Context) error { return errors.New("nope") },
		RestartPolicy{MinBackoff: time.Millisecond, MaxRestarts: 2})

	err := s.Wait(waitCtx(t))
	require.ErrorContains(t, err, "broken: nope")
}
