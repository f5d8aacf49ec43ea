package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrpan/tsrunner/internal/executor"
)

func newTestExecutor(out io.Writer) *Executor {
	return New(out, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
}

func TestRunCapturesAndTrimsOutput(t *testing.T) {
	skipOnWindows(t)
	var streamed bytes.Buffer
	e := newTestExecutor(&streamed)

	res, err := e.Run(context.Background(), executor.Command{
		Path: "sh",
		Args: []string{"-c", "echo hello; echo oops >&2; printf '\\n\\n'"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "oops", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, streamed.String(), "hello")
	assert.Contains(t, streamed.String(), "oops")
}

func TestRunSilentDoesNotStream(t *testing.T) {
	skipOnWindows(t)
	var streamed bytes.Buffer
	e := newTestExecutor(&streamed)

	res, err := e.Run(context.Background(), executor.Command{
		Path:   "sh",
		Args:   []string{"-c", "echo quiet"},
		Silent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "quiet", res.Stdout)
	assert.Empty(t, streamed.String())
}

func TestRunUsesDirAndEnv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	e := newTestExecutor(nil)

	res, err := e.Run(context.Background(), executor.Command{
		Path: "sh",
		Args: []string{"-c", "pwd; echo $TSRUNNER_TEST"},
		Dir:  dir,
		Env:  []string{"TSRUNNER_TEST=value"},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "value")
}

func TestRunNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(nil)

	res, err := e.Run(context.Background(), executor.Command{
		Path: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)

	var exitErr *executor.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "broken", exitErr.Stderr)
	assert.Contains(t, err.Error(), "sh -c")
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunMissingBinary(t *testing.T) {
	e := newTestExecutor(nil)

	_, err := e.Run(context.Background(), executor.Command{Path: "tsrunner-definitely-missing-binary"})
	require.Error(t, err)

	var exitErr *executor.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, -1, exitErr.ExitCode)
	assert.Contains(t, err.Error(), "tsrunner-definitely-missing-binary")
}
