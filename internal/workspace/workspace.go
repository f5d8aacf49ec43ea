// Package workspace provisions the throwaway project directory a script
// is rendered into and executed from.
package workspace

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is prepended to the random directory name.
const DefaultPrefix = "ts-"

// Provisioner creates workspace directories below a base directory.
type Provisioner struct {
	baseDir string
	prefix  string
	logger  *slog.Logger
}

// New returns a Provisioner.  An empty baseDir selects the OS temp
// directory; an empty prefix selects DefaultPrefix.
func New(baseDir, prefix string, logger *slog.Logger) *Provisioner {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{baseDir: baseDir, prefix: prefix, logger: logger}
}

// Create makes a fresh workspace directory, including any missing
// parents, and returns its absolute path.
func (p *Provisioner) Create() (string, error) {
	base := p.baseDir
	if base == "" {
		base = os.TempDir()
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	dir, err := filepath.Abs(filepath.Join(base, p.prefix+suffix))
	if err != nil {
		return "", fmt.Errorf("resolving workspace path: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", dir, err)
	}

	p.logger.Info("workspace created", slog.String("dir", dir))
	return dir, nil
}
