package docker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerPath(t *testing.T) {
	host := filepath.Join(string(filepath.Separator), "tmp", "ts-abc")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"workspace root", host, WorkDir},
		{"entry file", filepath.Join(host, "src", "index.ts"), "/workspace/src/index.ts"},
		{"launcher", filepath.Join(host, "node_modules", "tsx", "dist", "cli.mjs"), "/workspace/node_modules/tsx/dist/cli.mjs"},
		{"outside workspace", filepath.Join(string(filepath.Separator), "usr", "bin", "node"), filepath.Join(string(filepath.Separator), "usr", "bin", "node")},
		{"sibling with shared prefix", host + "-other", host + "-other"},
		{"bare binary", "bun", "bun"},
		{"flag", "-i", "-i"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ContainerPath(host, tc.in))
		})
	}
}
