package worker

import (
	"golang.org/x/sync/errgroup"
)

// Kind identifies a worker event. The full set is fixed at compile time so
// the dispatch table enumerates every reachable transition.
type Kind string

const (
	KindInstall           Kind = "install"
	KindActivate          Kind = "activate"
	KindFetch             Kind = "fetch"
	KindMessage           Kind = "message"
	KindNotificationClick Kind = "notificationclick"
	KindPush              Kind = "push"
)

// Event is a single dispatched occurrence. Handlers may register
// asynchronous sub-work with WaitUntil; the dispatcher joins all registered
// work before the event is considered complete, so in-flight cache writes
// and routing land before the worker would be eligible for teardown.
type Event struct {
	Kind    Kind
	Payload any

	group errgroup.Group
}

// WaitUntil registers async sub-work with the event's completion scope.
// The work starts immediately; Dispatch blocks on it after the handler
// returns. Never use a detached goroutine for work that must land.
func (e *Event) WaitUntil(fn func() error) {
	e.group.Go(fn)
}

// join waits for all extended work. Called by the dispatcher only.
func (e *Event) join() error {
	return e.group.Wait()
}
