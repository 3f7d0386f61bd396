// Package tasktracker is the process-wide deferred-work registry spec.md
// §4.5/§4.8/§5 requires: ticket returns and stream-forwarding loops that
// must keep running after the HTTP caller disconnects are spawned here
// instead of as bare goroutines, so graceful shutdown can wait for them.
// Promoted from the teacher's indirect golang.org/x/sync/errgroup
// dependency (pulled in transitively by the OTEL/gRPC stack) to a direct
// one: errgroup.Group already provides exactly the Go/Wait shape this
// needs, so a hand-rolled WaitGroup wrapper would just be reinventing it.
package tasktracker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/inferencegw/core/pkg/gwlog"
)

// Tracker owns every deferred background task spawned for in-flight
// requests (ticket returns, stream forwarders, cache writes). Shutdown
// calls Wait to block until all of them finish (spec.md §5 "Task
// tracker: process-wide; shutdown awaits all pending deferred returns").
type Tracker struct {
	group *errgroup.Group
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{group: &errgroup.Group{}}
}

// Go spawns fn as a tracked background task. Unlike a bare `go fn()`,
// a panic or error inside fn is logged rather than silently lost, since
// nothing downstream is waiting on its return value directly.
func (t *Tracker) Go(name string, fn func() error) {
	t.group.Go(func() (taskErr error) {
		defer func() {
			if r := recover(); r != nil {
				gwlog.Warnf("tasktracker: deferred task %q panicked: %v", name, r)
				taskErr = nil
			}
		}()
		if err := fn(); err != nil {
			gwlog.Warnf("tasktracker: deferred task %q failed: %v", name, err)
			return err
		}
		return nil
	})
}

// Wait blocks until every task spawned via Go has returned. Call this
// from graceful shutdown before the process exits.
func (t *Tracker) Wait() error {
	return t.group.Wait()
}

// WaitContext blocks until every task returns or ctx is done, whichever
// comes first — shutdown should not hang forever on a stuck task.
func (t *Tracker) WaitContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- t.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
