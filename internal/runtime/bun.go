package runtime

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/terrpan/tsrunner/internal/executor"
)

// BunConfig holds the settings of the bun installer.
type BunConfig struct {
	// ArchiveDir is searched for a pre-fetched release archive named
	// after AssetNames.  Default: "public".
	ArchiveDir string

	// InstallDir is the bun home.  The binary lives in InstallDir/bin.
	// Default: $BUN_INSTALL, then ~/.bun.
	InstallDir string

	// ScriptURL is the POSIX install script.
	// Default: https://bun.sh/install
	ScriptURL string

	// WindowsScriptURL is the PowerShell install script.
	// Default: https://bun.sh/install.ps1
	WindowsScriptURL string

	// GOOS and GOARCH override the host platform (tests only).
	GOOS   string
	GOARCH string

	// HTTPClient fetches the install script.  Default: a client with a
	// one minute timeout.
	HTTPClient *http.Client
}

// BunInstaller installs bun from a local release archive or the vendor
// install script.
type BunInstaller struct {
	cfg    BunConfig
	exec   executor.Executor
	out    io.Writer
	logger *slog.Logger

	mu   sync.Mutex
	path string
}

var _ Installer = (*BunInstaller)(nil)

// NewBunInstaller creates a bun installer.  exec runs the installed
// binary and the PowerShell installer; out receives installer output.
func NewBunInstaller(cfg BunConfig, exec executor.Executor, out io.Writer, logger *slog.Logger) *BunInstaller {
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "public"
	}
	if cfg.InstallDir == "" {
		cfg.InstallDir = defaultInstallDir()
	}
	if cfg.ScriptURL == "" {
		cfg.ScriptURL = "https://bun.sh/install"
	}
	if cfg.WindowsScriptURL == "" {
		cfg.WindowsScriptURL = "https://bun.sh/install.ps1"
	}
	if cfg.GOOS == "" {
		cfg.GOOS = goruntime.GOOS
	}
	if cfg.GOARCH == "" {
		cfg.GOARCH = goruntime.GOARCH
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BunInstaller{cfg: cfg, exec: exec, out: out, logger: logger}
}

func defaultInstallDir() string {
	if dir := os.Getenv("BUN_INSTALL"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bun"
	}
	return filepath.Join(home, ".bun")
}

// AssetName returns the bun release archive name for a platform,
// e.g. bun-linux-x64.zip or bun-darwin-aarch64.zip.
func AssetName(goos, goarch string) string {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "aarch64"
	}
	return fmt.Sprintf("bun-%s-%s.zip", goos, arch)
}

// NodeAssetName returns the archive name in node's platform naming,
// e.g. bun-win32-x64.zip or bun-darwin-arm64.zip.
func NodeAssetName(goos, goarch string) string {
	platform := goos
	if goos == "windows" {
		platform = "win32"
	}
	arch := goarch
	if goarch == "amd64" {
		arch = "x64"
	}
	return fmt.Sprintf("bun-%s-%s.zip", platform, arch)
}

// AssetNames lists the archive names looked up in ArchiveDir, release
// naming first.
func AssetNames(goos, goarch string) []string {
	names := []string{AssetName(goos, goarch)}
	if alt := NodeAssetName(goos, goarch); alt != names[0] {
		names = append(names, alt)
	}
	return names
}

// findArchive returns the first archive present in ArchiveDir.
func (b *BunInstaller) findArchive() (string, bool) {
	for _, name := range AssetNames(b.cfg.GOOS, b.cfg.GOARCH) {
		p := filepath.Join(b.cfg.ArchiveDir, name)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// BinaryPath is where the bun executable is installed.
func (b *BunInstaller) BinaryPath() string {
	name := "bun"
	if b.cfg.GOOS == "windows" {
		name = "bun.exe"
	}
	return filepath.Join(b.cfg.InstallDir, "bin", name)
}

// Ensure installs bun once and returns its handle.  Later calls return
// the cached handle.
func (b *BunInstaller) Ensure(ctx context.Context) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path != "" {
		return Handle{Kind: KindBun, Path: b.path}, nil
	}

	start := time.Now()
	bin := b.BinaryPath()
	archive, hasArchive := b.findArchive()

	b.logger.Info("ensuring bun",
		slog.String("os", b.cfg.GOOS),
		slog.String("arch", b.cfg.GOARCH),
		slog.String("installDir", b.cfg.InstallDir),
	)

	switch {
	case hasArchive:
		b.logger.Info("installing bun from local archive", slog.String("archive", archive))
		if err := extractBinary(archive, filepath.Dir(bin)); err != nil {
			return Handle{}, fmt.Errorf("extracting %s: %w", archive, err)
		}
	case fileExists(bin):
		b.logger.Info("bun already installed", slog.String("path", bin))
	default:
		if err := b.runInstallScript(ctx); err != nil {
			return Handle{}, fmt.Errorf("installing bun: %w", err)
		}
	}

	if !fileExists(bin) {
		return Handle{}, fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
	}

	res, err := b.exec.Run(ctx, executor.Command{Path: bin, Args: []string{"--version"}, Silent: true})
	if err != nil {
		return Handle{}, fmt.Errorf("verifying bun: %w", err)
	}

	b.logger.Info("bun ready",
		slog.String("path", bin),
		slog.String("version", res.Stdout),
		slog.Duration("took", time.Since(start)),
	)

	b.path = bin
	return Handle{Kind: KindBun, Path: bin}, nil
}

func (b *BunInstaller) runInstallScript(ctx context.Context) error {
	env := []string{"BUN_INSTALL=" + b.cfg.InstallDir}

	if b.cfg.GOOS == "windows" {
		b.logger.Info("installing bun from install script", slog.String("url", b.cfg.WindowsScriptURL))
		_, err := b.exec.Run(ctx, executor.Command{
			Path: "powershell",
			Args: []string{"-NoProfile", "-Command", fmt.Sprintf("irm %s | iex", b.cfg.WindowsScriptURL)},
			Env:  env,
		})
		return err
	}

	b.logger.Info("installing bun from install script", slog.String("url", b.cfg.ScriptURL))

	script, err := b.fetchScript(ctx, b.cfg.ScriptURL)
	if err != nil {
		return err
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "bun-install.sh")
	if err != nil {
		return fmt.Errorf("parsing install script: %w", err)
	}

	var stderr bytes.Buffer
	runner, err := interp.New(
		interp.Env(expand.ListEnviron(append(os.Environ(), env...)...)),
		interp.StdIO(nil, b.out, io.MultiWriter(&stderr, b.out)),
	)
	if err != nil {
		return fmt.Errorf("creating shell interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		exitCode := 1
		var status interp.ExitStatus
		if errors.As(err, &status) {
			exitCode = int(status)
		}
		return &executor.ExitError{
			Command:  "sh " + b.cfg.ScriptURL,
			ExitCode: exitCode,
			Stderr:   executor.TrimOutput(stderr.String()),
			Err:      err,
		}
	}
	return nil
}

func (b *BunInstaller) fetchScript(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return string(data), nil
}

// extractBinary copies the bun executable out of a release archive into
// binDir, dropping the archive's directory structure.
func extractBinary(archive, binDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}

	found := false
	for _, f := range r.File {
		base := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || (base != "bun" && base != "bun.exe") {
			continue
		}
		if err := writeZipFile(f, filepath.Join(binDir, base)); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return fmt.Errorf("%w: no bun executable in archive", ErrBinaryNotFound)
	}
	return nil
}

func writeZipFile(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return dst.Close()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
