// Package executor defines the abstraction for running external
// processes (package managers, runtime installers, the user's script).
// Each backend (local host, Docker container) implements the Executor
// interface so the rest of the system does not care where a process runs.
package executor

import (
	"context"
	"fmt"
	"strings"
)

// Command describes a single external process invocation.
type Command struct {
	// Path is the executable to run.  It is resolved through PATH when it
	// contains no path separator.
	Path string

	// Args are passed to the executable verbatim.
	Args []string

	// Dir is the working directory of the process.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the inherited
	// environment.
	Env []string

	// Silent suppresses streaming of the process output to the log
	// writer.  Output is always captured.
	Silent bool
}

// String returns the command line as it would be typed in a shell.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is the captured outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a process that could not be started or exited
// with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("failed to execute command: %s (exit code %d)", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Executor is the contract every process backend must satisfy.
//
// Run blocks until the process exits.  Stdout and Stderr in the returned
// Result have trailing whitespace removed.  A non-zero exit is reported
// as an *ExitError together with the partial Result.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)

	// Shutdown releases any resources the backend still holds.  It is
	// called once during process termination.
	Shutdown(ctx context.Context) error
}

// TrimOutput removes the trailing whitespace a process leaves behind.
func TrimOutput(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
