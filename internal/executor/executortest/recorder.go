// Package executortest provides an in-memory executor.Executor for tests.
package executortest

import (
	"context"
	"sync"

	"github.com/terrpan/tsrunner/internal/executor"
)

// Handler decides the outcome of a recorded command.
type Handler func(cmd executor.Command) (*executor.Result, error)

// Recorder records every command it is asked to run and delegates the
// outcome to an optional Handler.  Without a Handler every command
// succeeds with empty output.
type Recorder struct {
	mu       sync.Mutex
	commands []executor.Command
	handler  Handler
}

var _ executor.Executor = (*Recorder)(nil)

// New returns a Recorder that uses h to answer commands.  h may be nil.
func New(h Handler) *Recorder {
	return &Recorder{handler: h}
}

// Run records cmd and returns the handler's answer.
func (r *Recorder) Run(_ context.Context, cmd executor.Command) (*executor.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	h := r.handler
	r.mu.Unlock()

	if h == nil {
		return &executor.Result{}, nil
	}
	return h(cmd)
}

// Shutdown is a no-op.
func (r *Recorder) Shutdown(context.Context) error { return nil }

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []executor.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]executor.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Ran reports whether a command with the given path was recorded.
func (r *Recorder) Ran(path string) bool {
	for _, c := range r.Commands() {
		if c.Path == path {
			return true
		}
	}
	return false
}
