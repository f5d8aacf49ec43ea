// Package config handles loading, validating, and applying
// configuration for tsrunner.  Configuration is read from a YAML file
// and can be overridden by CLI flags.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/terrpan/tsrunner/internal/deps"
	"github.com/terrpan/tsrunner/internal/executor"
	"github.com/terrpan/tsrunner/internal/executor/docker"
	"github.com/terrpan/tsrunner/internal/executor/local"
	"github.com/terrpan/tsrunner/internal/inputs"
	"github.com/terrpan/tsrunner/internal/otel"
	"github.com/terrpan/tsrunner/internal/runtime"
	"github.com/terrpan/tsrunner/internal/workspace"
)

// Modes.
const (
	// ModeNode honors the bun and zx inputs and installs bun on demand.
	ModeNode = "node"
	// ModeBun expects bun on PATH and always runs with it.
	ModeBun = "bun"
)

// Executor types.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	Mode         string             `yaml:"mode"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Dependencies DependenciesConfig `yaml:"dependencies"`
	Templates    TemplatesConfig    `yaml:"templates"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Logging      LoggingConfig      `yaml:"logging"`
	OTel         OTelConfig         `yaml:"otel"`
}

// ---------------------------------------------------------------------------
// Workspace
// ---------------------------------------------------------------------------

// WorkspaceConfig controls where workspaces are created.
type WorkspaceConfig struct {
	// BaseDir is the parent directory.  Default: the OS temp directory.
	BaseDir string `yaml:"base_dir"`
	// Prefix is prepended to the random directory name.  Default: "ts-".
	Prefix string `yaml:"prefix"`
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// RuntimeConfig configures how runtimes are located or installed.
type RuntimeConfig struct {
	Bun  BunRuntimeConfig  `yaml:"bun"`
	Node NodeRuntimeConfig `yaml:"node"`
}

// BunRuntimeConfig mirrors runtime.BunConfig.
type BunRuntimeConfig struct {
	// ArchiveDir holds pre-fetched release archives.  Default: "public".
	ArchiveDir string `yaml:"archive_dir"`
	// InstallDir is the bun home.  Default: $BUN_INSTALL, then ~/.bun.
	InstallDir string `yaml:"install_dir"`
	// Default: "https://bun.sh/install".
	InstallScriptURL string `yaml:"install_script_url"`
	// Default: "https://bun.sh/install.ps1".
	InstallScriptURLWindows string `yaml:"install_script_url_windows"`
}

// NodeRuntimeConfig configures the node runtime used by tsx.
type NodeRuntimeConfig struct {
	// Binary is looked up on PATH.  Default: "node".
	Binary string `yaml:"binary"`
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// DependenciesConfig mirrors deps.Config.
type DependenciesConfig struct {
	// Bundle is an offline node_modules tarball.  Default: "public/tsx.tar.gz".
	Bundle string `yaml:"bundle"`
	// DefaultPackages are always installed.
	// Default: ["@actions/core", "@actions/exec"].
	DefaultPackages []string `yaml:"default_packages"`
	// NodePackages are installed when bun is not used.  Default: ["tsx"].
	NodePackages []string `yaml:"node_packages"`
	// ZxPackage is installed when zx is enabled.  Default: "zx".
	ZxPackage string `yaml:"zx_package"`
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// TemplatesConfig selects the template tree.
type TemplatesConfig struct {
	// Dir is an on-disk template tree.  Empty selects the embedded set.
	Dir string `yaml:"dir"`
}

// ---------------------------------------------------------------------------
// Executor
// ---------------------------------------------------------------------------

// ExecutorConfig selects where processes run.
type ExecutorConfig struct {
	// Type: "local" or "docker".  Default: "local".
	Type string `yaml:"type"`

	// Docker holds Docker-specific settings.  Only read when Type == "docker".
	Docker DockerExecutorConfig `yaml:"docker"`
}

// DockerExecutorConfig names the runtime images.
type DockerExecutorConfig struct {
	// BunImage is used when the script runs with bun.  Default: "oven/bun:1".
	BunImage string `yaml:"bun_image"`
	// NodeImage is used when the script runs with tsx.  Default: "node:22".
	NodeImage string `yaml:"node_image"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json, pretty.  Default: text.
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OTLP export is active.  Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string `yaml:"endpoint"`

	// Insecure enables plain HTTP (no TLS) for OTLP export.
	Insecure bool `yaml:"insecure"`

	// StdOut also prints traces and metrics to stdout (for debugging).
	StdOut bool `yaml:"stdout"`

	// PushGatewayURL pushes run metrics to a Prometheus Pushgateway.
	PushGatewayURL string `yaml:"pushgateway_url"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed Config.
// A missing file yields a zero Config; defaults are filled by Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in sensible defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeNode
	}
	if c.Workspace.Prefix == "" {
		c.Workspace.Prefix = workspace.DefaultPrefix
	}
	if c.Runtime.Bun.ArchiveDir == "" {
		c.Runtime.Bun.ArchiveDir = "public"
	}
	if c.Runtime.Bun.InstallScriptURL == "" {
		c.Runtime.Bun.InstallScriptURL = "https://bun.sh/install"
	}
	if c.Runtime.Bun.InstallScriptURLWindows == "" {
		c.Runtime.Bun.InstallScriptURLWindows = "https://bun.sh/install.ps1"
	}
	if c.Runtime.Node.Binary == "" {
		c.Runtime.Node.Binary = "node"
	}
	if c.Dependencies.Bundle == "" {
		c.Dependencies.Bundle = "public/tsx.tar.gz"
	}
	if len(c.Dependencies.DefaultPackages) == 0 {
		c.Dependencies.DefaultPackages = []string{"@actions/core", "@actions/exec"}
	}
	if len(c.Dependencies.NodePackages) == 0 {
		c.Dependencies.NodePackages = []string{"tsx"}
	}
	if c.Dependencies.ZxPackage == "" {
		c.Dependencies.ZxPackage = "zx"
	}
	if c.Executor.Type == "" {
		c.Executor.Type = ExecutorLocal
	}
	if c.Executor.Docker.BunImage == "" {
		c.Executor.Docker.BunImage = "oven/bun:1"
	}
	if c.Executor.Docker.NodeImage == "" {
		c.Executor.Docker.NodeImage = "node:22"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all fields are present and consistent.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	switch c.Mode {
	case ModeNode, ModeBun:
	default:
		return fmt.Errorf("mode %q is not supported (supported: node, bun)", c.Mode)
	}

	switch c.Executor.Type {
	case ExecutorLocal, ExecutorDocker:
	default:
		return fmt.Errorf("executor.type %q is not supported (supported: local, docker)", c.Executor.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("logging.format %q is not supported (supported: text, json, pretty)", c.Logging.Format)
	}

	for i, p := range c.Dependencies.DefaultPackages {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("dependencies.default_packages[%d] is empty", i)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration that
// writes to w.  debug forces the debug level.
func (c *Config) NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := c.slogLevel()
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "pretty":
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			Prefix:          "tsrunner",
		}))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}

// NewExecutor creates the process backend selected by executor.type.
// useBun picks the runtime image for the docker backend.
func (c *Config) NewExecutor(ctx context.Context, useBun bool, out io.Writer, logger *slog.Logger) (executor.Executor, error) {
	switch c.Executor.Type {
	case ExecutorLocal:
		return local.New(out, logger.WithGroup("executor.local")), nil
	case ExecutorDocker:
		image := c.Executor.Docker.NodeImage
		if useBun {
			image = c.Executor.Docker.BunImage
		}
		return docker.New(ctx, docker.Config{Image: image}, out, logger.WithGroup("executor.docker"))
	default:
		return nil, fmt.Errorf("unsupported executor type: %s", c.Executor.Type)
	}
}

// NewRuntimeInstaller picks how the runtime for in is obtained:
//   - docker executor: the image's own binary
//   - bun mode: bun already on PATH
//   - bun input: bun from an archive or the install script
//   - otherwise: node on PATH
func (c *Config) NewRuntimeInstaller(in inputs.Inputs, exec executor.Executor, out io.Writer, logger *slog.Logger) runtime.Installer {
	logger = logger.WithGroup("runtime")
	kind := runtime.KindFor(in.Bun)

	switch {
	case c.Executor.Type == ExecutorDocker:
		return runtime.NewImageInstaller(kind)
	case c.Mode == ModeBun:
		return runtime.NewHostInstaller(runtime.KindBun, "bun", logger)
	case in.Bun:
		return runtime.NewBunInstaller(runtime.BunConfig{
			ArchiveDir:       c.Runtime.Bun.ArchiveDir,
			InstallDir:       c.Runtime.Bun.InstallDir,
			ScriptURL:        c.Runtime.Bun.InstallScriptURL,
			WindowsScriptURL: c.Runtime.Bun.InstallScriptURLWindows,
		}, exec, out, logger)
	default:
		return runtime.NewHostInstaller(runtime.KindTsx, c.Runtime.Node.Binary, logger)
	}
}

// NewDepsInstaller creates the dependency installer.
func (c *Config) NewDepsInstaller(exec executor.Executor, logger *slog.Logger) *deps.Installer {
	return deps.New(deps.Config{
		Bundle:          c.Dependencies.Bundle,
		DefaultPackages: c.Dependencies.DefaultPackages,
		NodePackages:    c.Dependencies.NodePackages,
		ZxPackage:       c.Dependencies.ZxPackage,
	}, exec, logger.WithGroup("deps"))
}

// NewWorkspace creates the workspace provisioner.
func (c *Config) NewWorkspace(logger *slog.Logger) *workspace.Provisioner {
	return workspace.New(c.Workspace.BaseDir, c.Workspace.Prefix, logger.WithGroup("workspace"))
}

// OTelConfig converts the otel section for otel.SetupOTelSDK.
func (c *Config) OTelConfig() otel.Config {
	return otel.Config{
		Enabled:        c.OTel.Enabled,
		Endpoint:       c.OTel.Endpoint,
		Insecure:       c.OTel.Insecure,
		StdOut:         c.OTel.StdOut,
		PushGatewayURL: c.OTel.PushGatewayURL,
	}
}
