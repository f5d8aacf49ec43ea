// Package runtime resolves the JavaScript runtime that executes the
// user's script: bun, or node running the tsx launcher.
package runtime

import (
	"context"
	"errors"
)

// Kind discriminates the supported runtimes.
type Kind string

const (
	KindBun Kind = "bun"
	KindTsx Kind = "tsx"
)

// ErrBinaryNotFound is returned when a runtime executable is missing
// after every install attempt.
var ErrBinaryNotFound = errors.New("runtime binary not found")

// Handle is a resolved runtime executable.
type Handle struct {
	Kind Kind
	Path string
}

// Installer makes sure a runtime is available and returns its handle.
// Ensure must be idempotent.
type Installer interface {
	Ensure(ctx context.Context) (Handle, error)
}

// KindFor returns the runtime kind selected by the bun flag.
func KindFor(useBun bool) Kind {
	if useBun {
		return KindBun
	}
	return KindTsx
}
