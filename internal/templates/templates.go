// Package templates embeds the project skeleton the user's script is
// rendered into.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// EntryFile is the rendered module that contains the user's script,
// relative to the project root.
const EntryFile = "src/index.ts"

//go:embed all:files
var files embed.FS

// FS returns the embedded template tree rooted at the project root.
func FS() fs.FS {
	sub, err := fs.Sub(files, "files")
	if err != nil {
		// "files" is embedded at build time.
		panic(err)
	}
	return sub
}

// Materialize writes the embedded template tree to dir, which must not
// already contain any of its files.
func Materialize(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.CopyFS(dir, FS()); err != nil {
		return fmt.Errorf("writing templates to %s: %w", dir, err)
	}
	return nil
}
