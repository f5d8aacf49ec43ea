// Package render copies a template tree into a workspace, substituting
// the user's script and the runtime flags into every file.
package render

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/zeebo/blake3"
)

// ErrTemplateRootNotFound is returned when the template directory is
// missing.
var ErrTemplateRootNotFound = errors.New("template directory not found")

// Values are the placeholders available to templates.
type Values struct {
	// Script is inserted verbatim, without any escaping.
	Script string
	// Bun selects the bun shell import block.
	Bun bool
	// Zx selects the zx globals import block when Bun is false.
	Zx bool
	// Debug forces verbose helpers in the rendered project.
	Debug bool
}

// File describes one rendered file.
type File struct {
	Source string
	Dest   string
	// Digest is the hex BLAKE3 sum of the rendered content.
	Digest string
}

// Renderer renders template trees.
type Renderer struct {
	logger *slog.Logger
}

// New creates a Renderer that logs one line per rendered file.
func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Renderer{logger: logger}
}

// Render renders every file below templateRoot into the same relative
// path below destRoot, creating destRoot when needed.  Entries are
// visited in lexical order.
func (r *Renderer) Render(templateRoot, destRoot string, values Values) ([]File, error) {
	info, err := os.Stat(templateRoot)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateRootNotFound, templateRoot)
	}
	if err != nil {
		return nil, fmt.Errorf("reading template directory %s: %w", templateRoot, err)
	}
	return r.renderDir(templateRoot, destRoot, values)
}

func (r *Renderer) renderDir(src, dst string, values Values) ([]File, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dst, err)
	}

	// os.ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("reading template directory %s: %w", src, err)
	}

	var files []File
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())

		if e.IsDir() {
			sub, err := r.renderDir(srcPath, dstPath, values)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}

		f, err := r.renderFile(srcPath, dstPath, values)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (r *Renderer) renderFile(src, dst string, values Values) (File, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return File{}, fmt.Errorf("reading template %s: %w", src, err)
	}

	tpl, err := template.New(filepath.Base(src)).Option("missingkey=error").Parse(string(data))
	if err != nil {
		return File{}, fmt.Errorf("parsing template %s: %w", src, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, values); err != nil {
		return File{}, fmt.Errorf("executing template %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return File{}, fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
		return File{}, fmt.Errorf("writing %s: %w", dst, err)
	}

	sum := blake3.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])
	r.logger.Info("rendered template",
		slog.String("template", src),
		slog.String("dest", dst),
		slog.String("digest", digest),
	)

	return File{Source: src, Dest: dst, Digest: digest}, nil
}
