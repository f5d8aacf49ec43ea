package health

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookPath resolves only the given executables.
func fakeLookPath(found ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, f := range found {
			if f == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

func TestCollectResponseStructure(t *testing.T) {
	resp := Collect(Options{Mode: "node", Executor: "local", LookPath: fakeLookPath("node", "npm")})

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "tsrunner", resp.ServiceName)
	assert.Equal(t, "node", resp.Mode)
	assert.Equal(t, "local", resp.Executor)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Commit)
	assert.NotEmpty(t, resp.BuildTime)
	assert.NotEmpty(t, resp.GoVersion)
	assert.NotEmpty(t, resp.OS)
	assert.NotEmpty(t, resp.Architecture)
	assert.False(t, resp.Timestamp.IsZero())

	require.Len(t, resp.Probes, len(Binaries))
	for _, p := range resp.Probes {
		switch p.Name {
		case "bun":
			assert.False(t, p.Available)
			assert.False(t, p.Required)
			assert.Empty(t, p.Path)
		case "node", "npm":
			assert.True(t, p.Available)
			assert.True(t, p.Required)
			assert.Equal(t, "/usr/bin/"+p.Name, p.Path)
		}
	}
}

func TestCollectStatus(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		executor string
		found    []string
		want     string
	}{
		{"node mode with node and npm", "node", "local", []string{"node", "npm"}, StatusHealthy},
		{"node mode without npm", "node", "local", []string{"node", "bun"}, StatusDegraded},
		{"bun mode with bun", "bun", "local", []string{"bun"}, StatusHealthy},
		{"bun mode without bun", "bun", "local", []string{"node", "npm"}, StatusDegraded},
		{"docker executor needs nothing", "node", "docker", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Collect(Options{Mode: tt.mode, Executor: tt.executor, LookPath: fakeLookPath(tt.found...)})
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestWriteIsValidJSON(t *testing.T) {
	resp := Collect(Options{Mode: "bun", Executor: "local", LookPath: fakeLookPath("bun")})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, resp))

	var decoded Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, resp.Status, decoded.Status)
	assert.Equal(t, resp.Probes, decoded.Probes)
	assert.Contains(t, buf.String(), "\n  \"status\": \"healthy\"")
}
