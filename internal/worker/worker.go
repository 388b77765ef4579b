// Package worker owns the agent's event dispatch table and lifecycle state
// machine: install and activate run in order at startup, fetch/message/
// click events arrive from the HTTP surface, and push deliveries arrive from
// the push bus at any time relative to the lifecycle.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the worker lifecycle state.
type State string

const (
	StateNew           State = "new"
	StateInstalling    State = "installing"
	StateInstalled     State = "installed"
	StateInstallFailed State = "install-failed"
	StateActivating    State = "activating"
	StateActive        State = "active"
)

// Handler processes one event kind.
type Handler func(ctx context.Context, ev *Event) error

// ErrUnhandledEvent is returned when no handler is registered for a kind.
var ErrUnhandledEvent = fmt.Errorf("no handler registered for event kind")

// Worker dispatches events through a table built once at startup.
type Worker struct {
	table map[Kind]Handler
	log   *zap.Logger

	// reportPanic forwards recovered handler panics to error reporting
	// (Sentry when configured). May be nil.
	reportPanic func(v any)

	mu        sync.Mutex
	state     State
	prevState State

	skipWaiting atomic.Bool
}

// New builds a worker with the given handler table. The table is copied;
// handlers cannot be attached after construction.
func New(table map[Kind]Handler, log *zap.Logger, reportPanic func(v any)) *Worker {
	t := make(map[Kind]Handler, len(table))
	for k, h := range table {
		t[k] = h
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		table:       t,
		log:         log,
		reportPanic: reportPanic,
		state:       StateNew,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SkipWaiting marks this worker eligible to activate immediately. Called by
// the install handler on success and by the SKIP_WAITING control message.
func (w *Worker) SkipWaiting() {
	w.skipWaiting.Store(true)
}

// SkipWaitingRequested reports whether skip-waiting has been requested.
func (w *Worker) SkipWaitingRequested() bool {
	return w.skipWaiting.Load()
}

// Dispatch routes an event to its handler, tracks lifecycle transitions for
// install/activate, joins all extended work, and recovers handler panics so
// a single bad event cannot take the worker down.
func (w *Worker) Dispatch(ctx context.Context, kind Kind, payload any) (err error) {
	handler, ok := w.table[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledEvent, kind)
	}
	if err := w.enter(kind); err != nil {
		return err
	}

	ev := &Event{Kind: kind, Payload: payload}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("event handler panicked",
				zap.String("kind", string(kind)),
				zap.Any("panic", r))
			if w.reportPanic != nil {
				w.reportPanic(r)
			}
			err = fmt.Errorf("handler for %s panicked: %v", kind, r)
		}
		w.leave(kind, err)
	}()

	err = handler(ctx, ev)
	if joinErr := ev.join(); joinErr != nil && err == nil {
		err = joinErr
	}
	return err
}

// enter validates and records the transition an event kind implies.
// Install must complete (or fail) before activate begins; repeating
// activate is permitted and idempotent.
func (w *Worker) enter(kind Kind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch kind {
	case KindInstall:
		if w.state != StateNew {
			return fmt.Errorf("install dispatched in state %s", w.state)
		}
		w.state = StateInstalling
	case KindActivate:
		switch w.state {
		case StateInstalled, StateInstallFailed, StateActive:
			w.prevState = w.state
			w.state = StateActivating
		default:
			return fmt.Errorf("activate dispatched in state %s", w.state)
		}
	}
	return nil
}

func (w *Worker) leave(kind Kind, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch kind {
	case KindInstall:
		if err != nil {
			// Activation stays permitted: the shell is not fully
			// warmed, later fetches fill gaps lazily.
			w.state = StateInstallFailed
			return
		}
		w.state = StateInstalled
	case KindActivate:
		if w.state != StateActivating {
			return
		}
		if err != nil {
			// Failed activation leaves the prior state so it can be retried.
			w.state = w.prevState
			return
		}
		w.state = StateActive
	}
}
