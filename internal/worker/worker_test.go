package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWorker(table map[Kind]Handler) *Worker {
	return New(table, zap.NewNop(), nil)
}

func TestWorker_UnhandledKind(t *testing.T) {
	t.Parallel()

	w := newTestWorker(map[Kind]Handler{})
	err := w.Dispatch(context.Background(), KindFetch, nil)
	require.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestWorker_InstallThenActivateOrdering(t *testing.T) {
	t.Parallel()

	var order []Kind
	table := map[Kind]Handler{
		KindInstall:  func(ctx context.Context, ev *Event) error { order = append(order, KindInstall); return nil },
		KindActivate: func(ctx context.Context, ev *Event) error { order = append(order, KindActivate); return nil },
	}
	w := newTestWorker(table)

	// Activate before install is rejected.
	require.Error(t, w.Dispatch(context.Background(), KindActivate, nil))

	require.NoError(t, w.Dispatch(context.Background(), KindInstall, nil))
	assert.Equal(t, StateInstalled, w.State())

	require.NoError(t, w.Dispatch(context.Background(), KindActivate, nil))
	assert.Equal(t, StateActive, w.State())
	assert.Equal(t, []Kind{KindInstall, KindActivate}, order)
}

func TestWorker_RepeatedActivateIsIdempotent(t *testing.T) {
	t.Parallel()

	var activations int
	table := map[Kind]Handler{
		KindInstall:  func(ctx context.Context, ev *Event) error { return nil },
		KindActivate: func(ctx context.Context, ev *Event) error { activations++; return nil },
	}
	w := newTestWorker(table)
	require.NoError(t, w.Dispatch(context.Background(), KindInstall, nil))

	require.NoError(t, w.Dispatch(context.Background(), KindActivate, nil))
	require.NoError(t, w.Dispatch(context.Background(), KindActivate, nil))
	assert.Equal(t, 2, activations)
	assert.Equal(t, StateActive, w.State())
}

func TestWorker_InstallFailureStillAllowsActivate(t *testing.T) {
	t.Parallel()

	table := map[Kind]Handler{
		KindInstall:  func(ctx context.Context, ev *Event) error { return errors.New("manifest fetch failed") },
		KindActivate: func(ctx context.Context, ev *Event) error { return nil },
	}
	w := newTestWorker(table)

	require.Error(t, w.Dispatch(context.Background(), KindInstall, nil))
	assert.Equal(t, StateInstallFailed, w.State())

	require.NoError(t, w.Dispatch(context.Background(), KindActivate, nil))
	assert.Equal(t, StateActive, w.State())
}

func TestWorker_WaitUntilJoinsBeforeDispatchReturns(t *testing.T) {
	t.Parallel()

	var done atomic.Bool
	table := map[Kind]Handler{
		KindFetch: func(ctx context.Context, ev *Event) error {
			ev.WaitUntil(func() error {
				time.Sleep(20 * time.Millisecond)
				done.Store(true)
				return nil
			})
			return nil
		},
	}
	w := newTestWorker(table)

	require.NoError(t, w.Dispatch(context.Background(), KindFetch, nil))
	assert.True(t, done.Load(), "extended work must land before the event completes")
}

func TestWorker_WaitUntilErrorSurfaces(t *testing.T) {
	t.Parallel()

	table := map[Kind]Handler{
		KindFetch: func(ctx context.Context, ev *Event) error {
			ev.WaitUntil(func() error { return errors.New("cache write failed") })
			return nil
		},
	}
	w := newTestWorker(table)

	err := w.Dispatch(context.Background(), KindFetch, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache write failed")
}

func TestWorker_HandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()

	var reported atomic.Value
	table := map[Kind]Handler{
		KindPush: func(ctx context.Context, ev *Event) error { panic("bad payload") },
	}
	w := New(table, zap.NewNop(), func(v any) { reported.Store(v) })

	err := w.Dispatch(context.Background(), KindPush, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, "bad payload", reported.Load())

	// The worker is still usable afterwards.
	require.Error(t, w.Dispatch(context.Background(), KindPush, nil))
}

func TestWorker_SkipWaiting(t *testing.T) {
	t.Parallel()

	w := newTestWorker(map[Kind]Handler{})
	assert.False(t, w.SkipWaitingRequested())
	w.SkipWaiting()
	assert.True(t, w.SkipWaitingRequested())
}
