// Package deps populates the workspace's node_modules directory, either
// from an offline bundle plus a package-manager install, or by removing
// it so bun resolves imports on first run.
package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	archive "github.com/moby/go-archive"

	"github.com/terrpan/tsrunner/internal/executor"
)

// ModulesDir is the dependency directory inside a workspace.
const ModulesDir = "node_modules"

// bundleManifests are moved from the extracted bundle into the
// workspace root.
var bundleManifests = []string{"package.json", "package-lock.json"}

// Config holds the dependency settings that do not change per run.
type Config struct {
	// Bundle is a gzip tarball of a pre-populated node_modules tree.
	// Ignored when the file does not exist.
	Bundle string

	// DefaultPackages are always installed (the helpers the rendered
	// project imports).
	DefaultPackages []string

	// NodePackages are installed in addition when bun is not used.
	NodePackages []string

	// ZxPackage is installed when the zx import style is selected.
	ZxPackage string
}

// Request describes one dependency installation.
type Request struct {
	Workspace   string
	Packages    []string
	UseBun      bool
	UseZx       bool
	AutoInstall bool
	Silent      bool

	// Manager is the package manager executable.  Empty means "npm" for
	// node; bun callers pass the resolved bun path.
	Manager string
}

// Installer installs the dependencies of a rendered project.
type Installer struct {
	cfg    Config
	exec   executor.Executor
	logger *slog.Logger
}

// New creates an Installer that runs the package manager through exec.
func New(cfg Config, exec executor.Executor, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Installer{cfg: cfg, exec: exec, logger: logger}
}

// Packages returns the user's packages followed by the default ones,
// in order, with duplicates dropped.
func (i *Installer) Packages(req Request) []string {
	all := make([]string, 0, len(req.Packages)+len(i.cfg.DefaultPackages)+len(i.cfg.NodePackages)+1)
	all = append(all, req.Packages...)
	all = append(all, i.cfg.DefaultPackages...)
	if !req.UseBun {
		all = append(all, i.cfg.NodePackages...)
	}
	if req.UseZx && !req.UseBun && i.cfg.ZxPackage != "" {
		all = append(all, i.cfg.ZxPackage)
	}

	seen := make(map[string]struct{}, len(all))
	out := all[:0]
	for _, p := range all {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Install prepares node_modules for req.
func (i *Installer) Install(ctx context.Context, req Request) error {
	modules := filepath.Join(req.Workspace, ModulesDir)

	if req.AutoInstall && req.UseBun {
		// bun only auto-installs when no node_modules directory exists.
		i.logger.Info("auto_install is enabled, removing dependency directory", slog.String("dir", modules))
		if err := os.RemoveAll(modules); err != nil {
			return fmt.Errorf("removing %s: %w", modules, err)
		}
		return nil
	}

	if err := os.MkdirAll(modules, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", modules, err)
	}

	if err := i.extractBundle(req.Workspace, modules); err != nil {
		return err
	}

	manager := req.Manager
	if manager == "" {
		manager = "npm"
	}
	pkgs := i.Packages(req)
	if len(pkgs) == 0 {
		i.logger.Info("no packages need to install")
		return nil
	}

	i.logger.Info("installing packages",
		slog.String("manager", filepath.Base(manager)),
		slog.String("packages", strings.Join(pkgs, ", ")),
	)

	_, err := i.exec.Run(ctx, executor.Command{
		Path:   manager,
		Args:   append([]string{"install"}, pkgs...),
		Dir:    req.Workspace,
		Silent: req.Silent,
	})
	if err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}
	return nil
}

// extractBundle seeds modules from the offline bundle, if configured
// and present, and lifts its manifests into the workspace root.
func (i *Installer) extractBundle(workspace, modules string) error {
	if i.cfg.Bundle == "" {
		return nil
	}
	f, err := os.Open(i.cfg.Bundle)
	if errors.Is(err, os.ErrNotExist) {
		i.logger.Debug("no offline bundle", slog.String("bundle", i.cfg.Bundle))
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening bundle %s: %w", i.cfg.Bundle, err)
	}
	defer f.Close()

	i.logger.Info("extracting bundle", slog.String("bundle", i.cfg.Bundle), slog.String("dir", modules))
	if err := archive.Untar(f, modules, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("extracting bundle %s: %w", i.cfg.Bundle, err)
	}

	for _, name := range bundleManifests {
		src := filepath.Join(modules, name)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Rename(src, filepath.Join(workspace, name)); err != nil {
			return fmt.Errorf("moving %s: %w", src, err)
		}
	}
	return nil
}
