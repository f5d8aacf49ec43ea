package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandString(t *testing.T) {
	c := Command{Path: "bun", Args: []string{"run", "-i", "/tmp/ts-x/src/index.ts"}}
	assert.Equal(t, "bun run -i /tmp/ts-x/src/index.ts", c.String())
}

func TestExitErrorMessage(t *testing.T) {
	inner := errors.New("exit status 1")

	withStderr := &ExitError{Command: "npm install zod", ExitCode: 1, Stderr: "E404", Err: inner}
	assert.Equal(t, "failed to execute command: npm install zod (exit code 1): E404", withStderr.Error())
	assert.ErrorIs(t, withStderr, inner)

	withoutStderr := &ExitError{Command: "npm install zod", ExitCode: 1, Err: inner}
	assert.Contains(t, withoutStderr.Error(), "exit status 1")
}

func TestTrimOutput(t *testing.T) {
	assert.Equal(t, "  a\nb", TrimOutput("  a\nb \r\n\t\n"))
	assert.Equal(t, "", TrimOutput("\n\n"))
}
