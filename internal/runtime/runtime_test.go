package runtime

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/terrpan/tsrunner/internal/executor"
	"github.com/terrpan/tsrunner/internal/executor/executortest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func versionHandler(cmd executor.Command) (*executor.Result, error) {
	if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
		return &executor.Result{Stdout: "1.2.3"}, nil
	}
	return &executor.Result{}, nil
}

// writeZip creates a zip archive at path containing the given entries.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, body := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// ---------------------------------------------------------------------------
// Test suite
// ---------------------------------------------------------------------------

type BunInstallerSuite struct {
	suite.Suite
	ctx        context.Context
	archiveDir string
	installDir string
	exec       *executortest.Recorder
	logger     *slog.Logger
}

func TestBunInstallerSuite(t *testing.T) {
	suite.Run(t, new(BunInstallerSuite))
}

func (s *BunInstallerSuite) SetupTest() {
	s.ctx = context.Background()
	s.archiveDir = s.T().TempDir()
	s.installDir = s.T().TempDir()
	s.exec = executortest.New(versionHandler)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *BunInstallerSuite) newInstaller(scriptURL string) *BunInstaller {
	return NewBunInstaller(BunConfig{
		ArchiveDir: s.archiveDir,
		InstallDir: s.installDir,
		ScriptURL:  scriptURL,
		GOOS:       "linux",
		GOARCH:     "amd64",
	}, s.exec, io.Discard, s.logger)
}

func (s *BunInstallerSuite) TestEnsure_ExtractsLocalArchive() {
	writeZip(s.T(), filepath.Join(s.archiveDir, "bun-linux-x64.zip"), map[string]string{
		"bun-linux-x64/bun":       "#!/bin/sh\n",
		"bun-linux-x64/README.md": "ignored",
	})
	b := s.newInstaller("http://127.0.0.1:1/unreachable")

	h, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), KindBun, h.Kind)
	assert.Equal(s.T(), filepath.Join(s.installDir, "bin", "bun"), h.Path)
	assert.FileExists(s.T(), h.Path)
	assert.NoFileExists(s.T(), filepath.Join(s.installDir, "bin", "README.md"))
	assert.True(s.T(), s.exec.Ran(h.Path), "installed binary should be verified")
}

func (s *BunInstallerSuite) TestEnsure_ExtractsNodeNamedArchive() {
	writeZip(s.T(), filepath.Join(s.archiveDir, "bun-win32-x64.zip"), map[string]string{
		"bun-windows-x64/bun.exe": "MZ",
	})
	b := NewBunInstaller(BunConfig{
		ArchiveDir: s.archiveDir,
		InstallDir: s.installDir,
		ScriptURL:  "http://127.0.0.1:1/unreachable",
		GOOS:       "windows",
		GOARCH:     "amd64",
	}, s.exec, io.Discard, s.logger)

	h, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), filepath.Join(s.installDir, "bin", "bun.exe"), h.Path)
	assert.FileExists(s.T(), h.Path)
	assert.False(s.T(), s.exec.Ran("powershell"), "install script must not run")
}

func (s *BunInstallerSuite) TestEnsure_PrefersReleaseNamedArchive() {
	writeZip(s.T(), filepath.Join(s.archiveDir, "bun-darwin-aarch64.zip"), map[string]string{
		"bun-darwin-aarch64/bun": "release",
	})
	writeZip(s.T(), filepath.Join(s.archiveDir, "bun-darwin-arm64.zip"), map[string]string{
		"bun-darwin-arm64/bun": "node naming",
	})
	b := NewBunInstaller(BunConfig{
		ArchiveDir: s.archiveDir,
		InstallDir: s.installDir,
		ScriptURL:  "http://127.0.0.1:1/unreachable",
		GOOS:       "darwin",
		GOARCH:     "arm64",
	}, s.exec, io.Discard, s.logger)

	h, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)
	data, err := os.ReadFile(h.Path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "release", string(data))
}

func (s *BunInstallerSuite) TestEnsure_ArchiveWithoutBinary() {
	writeZip(s.T(), filepath.Join(s.archiveDir, "bun-linux-x64.zip"), map[string]string{
		"README.md": "nothing here",
	})
	b := s.newInstaller("http://127.0.0.1:1/unreachable")

	_, err := b.Ensure(s.ctx)
	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrBinaryNotFound))
}

func (s *BunInstallerSuite) TestEnsure_ExistingBinarySkipsInstall() {
	bin := filepath.Join(s.installDir, "bin", "bun")
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(s.T(), os.WriteFile(bin, []byte("bun"), 0o755))

	b := s.newInstaller("http://127.0.0.1:1/unreachable")
	h, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), bin, h.Path)
}

func (s *BunInstallerSuite) TestEnsure_IsIdempotent() {
	bin := filepath.Join(s.installDir, "bin", "bun")
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(s.T(), os.WriteFile(bin, []byte("bun"), 0o755))

	b := s.newInstaller("http://127.0.0.1:1/unreachable")
	first, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)
	second, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), first, second)
	assert.Len(s.T(), s.exec.Commands(), 1, "second call must not reinstall or re-verify")
}

func (s *BunInstallerSuite) TestEnsure_RunsInstallScript() {
	if goruntime.GOOS == "windows" {
		s.T().Skip("install script needs POSIX mkdir")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `mkdir -p "$BUN_INSTALL/bin"
echo "fake bun" > "$BUN_INSTALL/bin/bun"
`)
	}))
	defer srv.Close()

	b := s.newInstaller(srv.URL)
	h, err := b.Ensure(s.ctx)
	require.NoError(s.T(), err)
	assert.FileExists(s.T(), h.Path)
}

func (s *BunInstallerSuite) TestEnsure_InstallScriptFails() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "echo 'unsupported platform' >&2\nexit 2\n")
	}))
	defer srv.Close()

	b := s.newInstaller(srv.URL)
	_, err := b.Ensure(s.ctx)
	require.Error(s.T(), err)

	var exitErr *executor.ExitError
	require.True(s.T(), errors.As(err, &exitErr))
	assert.Equal(s.T(), 2, exitErr.ExitCode)
	assert.Contains(s.T(), exitErr.Stderr, "unsupported platform")
}

func (s *BunInstallerSuite) TestEnsure_InstallScriptHTTPError() {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := s.newInstaller(srv.URL)
	_, err := b.Ensure(s.ctx)
	require.Error(s.T(), err)
	assert.Contains(s.T(), err.Error(), "unexpected status")
}

func (s *BunInstallerSuite) TestEnsure_ScriptLeavesNoBinary() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "echo done\n")
	}))
	defer srv.Close()

	b := s.newInstaller(srv.URL)
	_, err := b.Ensure(s.ctx)
	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrBinaryNotFound))
}

func (s *BunInstallerSuite) TestEnsure_WindowsUsesPowerShell() {
	b := NewBunInstaller(BunConfig{
		ArchiveDir:       s.archiveDir,
		InstallDir:       s.installDir,
		WindowsScriptURL: "https://example.invalid/install.ps1",
		GOOS:             "windows",
		GOARCH:           "amd64",
	}, s.exec, io.Discard, s.logger)

	// The fake executor does not create bun.exe, so the install is
	// reported as missing after PowerShell ran.
	_, err := b.Ensure(s.ctx)
	require.Error(s.T(), err)
	assert.True(s.T(), errors.Is(err, ErrBinaryNotFound))

	cmds := s.exec.Commands()
	require.Len(s.T(), cmds, 1)
	assert.Equal(s.T(), "powershell", cmds[0].Path)
	assert.Contains(s.T(), cmds[0].Args[len(cmds[0].Args)-1], "irm https://example.invalid/install.ps1 | iex")
	assert.Contains(s.T(), cmds[0].Env, "BUN_INSTALL="+s.installDir)
}

// ---------------------------------------------------------------------------
// Plain tests
// ---------------------------------------------------------------------------

func TestAssetName(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "bun-linux-x64.zip"},
		{"linux", "arm64", "bun-linux-aarch64.zip"},
		{"darwin", "arm64", "bun-darwin-aarch64.zip"},
		{"windows", "amd64", "bun-windows-x64.zip"},
	}
	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			assert.Equal(t, tc.want, AssetName(tc.goos, tc.goarch))
		})
	}
}

func TestAssetNames(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         []string
	}{
		{"linux", "amd64", []string{"bun-linux-x64.zip"}},
		{"linux", "arm64", []string{"bun-linux-aarch64.zip", "bun-linux-arm64.zip"}},
		{"darwin", "arm64", []string{"bun-darwin-aarch64.zip", "bun-darwin-arm64.zip"}},
		{"windows", "amd64", []string{"bun-windows-x64.zip", "bun-win32-x64.zip"}},
	}
	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			assert.Equal(t, tc.want, AssetNames(tc.goos, tc.goarch))
		})
	}
}

func TestHostInstaller(t *testing.T) {
	h := NewHostInstaller(KindTsx, "node", nil)
	h.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	handle, err := h.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Handle{Kind: KindTsx, Path: "/usr/bin/node"}, handle)
}

func TestHostInstallerNotFound(t *testing.T) {
	h := NewHostInstaller(KindBun, "bun", nil)
	h.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	_, err := h.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
	assert.Contains(t, err.Error(), "bun")
}

func TestImageInstaller(t *testing.T) {
	bun, err := NewImageInstaller(KindBun).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bun", bun.Path)

	tsx, err := NewImageInstaller(KindTsx).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Handle{Kind: KindTsx, Path: "node"}, tsx)
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, KindBun, KindFor(true))
	assert.Equal(t, KindTsx, KindFor(false))
}
