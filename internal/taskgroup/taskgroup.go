// Package taskgroup adapts go.gazette.dev/core/task.Group's pattern of
// named, cancellation-aware goroutines to this port's needs: a task runs
// for its lifetime, and a single context.Context cancellation tears the
// whole group down in a defined order. Its one user is engine.Scheduler,
// which runs its shutdown watcher as a task.
package taskgroup

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Group runs a set of named goroutines and collects their first error.
// Queue may be called concurrently with itself, but not after Wait has
// returned.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	firstErr error
}

// New returns a Group deriving its lifetime from parent.
func New(parent context.Context) *Group {
	var ctx, cancel = context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context is cancelled when any queued task returns a non-nil error, or
// when the Group's parent context is cancelled.
func (g *Group) Context() context.Context { return g.ctx }

// Queue runs fn in a new goroutine under the name (used only for logging).
// If fn returns a non-nil error, the Group's Context is cancelled so that
// other tasks may observe the failure and begin their own shutdown.
func (g *Group) Queue(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		var err = fn()
		if err != nil && errors.Cause(err) != context.Canceled {
			log.WithField("task", name).WithError(err).Error("task failed")

			g.mu.Lock()
			if g.firstErr == nil {
				g.firstErr = errors.WithMessage(err, name)
			}
			g.mu.Unlock()

			g.cancel()
		}
	}()
}

// Cancel tears down the Group without requiring a task to have failed
// first; used for an orderly shutdown signal (eg, the Engine's shutdown
// pipe becoming readable).
func (g *Group) Cancel() { g.cancel() }

// Wait blocks until every queued task has returned, then returns the first
// non-context.Canceled error reported by any of them (nil if none).
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}
