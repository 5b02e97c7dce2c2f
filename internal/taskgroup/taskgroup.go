// Package taskgroup supervises long-running goroutines. Each task yields a
// tagged Outcome; one task failing or panicking never cancels the others.
package taskgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// Status is the terminal state of a task.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusPanicked  Status = "panicked"
	StatusCancelled Status = "cancelled"
)

// Outcome is what a supervised task ended with.
type Outcome struct {
	Name   string
	Status Status
	Err    error
}

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Protect runs fn and converts a panic into a *PanicError.
func Protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Classify maps a task's return value to an Outcome. A nil or cancellation
// error after ctx is done counts as cancelled.
func Classify(ctx context.Context, name string, err error) Outcome {
	var pe *PanicError
	switch {
	case errors.As(err, &pe):
		return Outcome{Name: name, Status: StatusPanicked, Err: err}
	case errors.Is(err, context.Canceled):
		return Outcome{Name: name, Status: StatusCancelled, Err: err}
	case err != nil:
		return Outcome{Name: name, Status: StatusFailed, Err: err}
	case ctx.Err() != nil:
		return Outcome{Name: name, Status: StatusCancelled}
	}
	return Outcome{Name: name, Status: StatusSuccess}
}

// Group runs named tasks and collects their outcomes.
type Group struct {
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.Mutex
	outcomes []Outcome
	onDone   func(Outcome)
}

// Option configures a Group.
type Option func(*Group)

// WithOnDone registers a callback invoked as each task finishes.
func WithOnDone(fn func(Outcome)) Option {
	return func(g *Group) { g.onDone = fn }
}

// New creates a group whose tasks receive ctx.
func New(ctx context.Context, opts ...Option) *Group {
	g := &Group{ctx: ctx}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Go starts fn under supervision. The outcome slot is reserved in call order.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	idx := len(g.outcomes)
	g.outcomes = append(g.outcomes, Outcome{Name: name})
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		out := Classify(g.ctx, name, Protect(func() error { return fn(g.ctx) }))

		g.mu.Lock()
		g.outcomes[idx] = out
		g.mu.Unlock()

		if g.onDone != nil {
			g.onDone(out)
		}
	}()
}

// Wait blocks until every task has finished and returns the outcomes in the
// order the tasks were started.
func (g *Group) Wait() []Outcome {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Outcome(nil), g.outcomes...)
}

// Summary counts outcomes per status.
func Summary(outcomes []Outcome) map[Status]int {
	m := make(map[Status]int, 4)
	for _, o := range outcomes {
		m[o.Status]++
	}
	return m
}
