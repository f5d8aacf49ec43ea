// Package local implements the executor.Executor interface by spawning
// processes directly on the host.
package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/terrpan/tsrunner/internal/executor"
)

// Executor runs commands as child processes of tsrunner.
type Executor struct {
	out    io.Writer
	logger *slog.Logger
}

// Compile-time check that Executor satisfies the executor.Executor interface.
var _ executor.Executor = (*Executor)(nil)

// New creates a local executor.  Unless a command is silent its output
// is streamed to out while being captured.  out may be nil.
func New(out io.Writer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{out: out, logger: logger}
}

// Run starts cmd, waits for it and returns its captured output.
func (e *Executor) Run(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if !cmd.Silent && e.out != nil {
		c.Stdout = io.MultiWriter(&stdout, e.out)
		c.Stderr = io.MultiWriter(&stderr, e.out)
	}

	e.logger.Debug("running command",
		slog.String("command", cmd.String()),
		slog.String("dir", cmd.Dir),
	)

	err := c.Run()
	res := &executor.Result{
		Stdout: executor.TrimOutput(stdout.String()),
		Stderr: executor.TrimOutput(stderr.String()),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		res.ExitCode = exitCode
		return res, &executor.ExitError{
			Command:  cmd.String(),
			ExitCode: exitCode,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}

	return res, nil
}

// Shutdown is a no-op: every child process has been waited for by Run.
func (e *Executor) Shutdown(context.Context) error { return nil }
