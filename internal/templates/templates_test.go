package templates

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSContainsProjectSkeleton(t *testing.T) {
	for _, name := range []string{"package.json", "src/config.ts", "src/utils.ts", EntryFile} {
		_, err := fs.Stat(FS(), name)
		assert.NoError(t, err, name)
	}
}

func TestMaterialize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	require.NoError(t, Materialize(dir))

	want, err := fs.ReadFile(FS(), EntryFile)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(EntryFile)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMaterializeRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Materialize(dir))
	assert.Error(t, Materialize(dir))
}
