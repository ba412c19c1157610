// Package tasks runs accepted lifecycle operations in the background. The
// HTTP layer acknowledges immediately; completion is observed through each
// task's channel and the notification side channel.
package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Task is one submitted unit of work.
type Task struct {
	ID   uuid.UUID
	Name string

	done chan struct{}
	err  error
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result. Only valid after Done is closed.
func (t *Task) Err() error { return t.err }

type Runner struct {
	log    *logrus.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(log *logrus.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{log: log, ctx: ctx, cancel: cancel}
}

// Submit starts fn in the background and returns immediately.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) *Task {
	t := &Task{
		ID:   uuid.New(),
		Name: name,
		done: make(chan struct{}),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(t.done)
		t.err = fn(r.ctx)
		if t.err != nil {
			r.log.Errorf("task %s (%s) failed: %v", t.Name, t.ID, t.err)
		} else {
			r.log.Infof("task %s (%s) finished", t.Name, t.ID)
		}
	}()
	return t
}

// Shutdown cancels the runner context and waits for in-flight tasks, bounded
// by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
