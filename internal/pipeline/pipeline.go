// Package pipeline runs one invocation end to end: runtime, workspace,
// dependencies, templates, script.  Steps run strictly in order and the
// first failure aborts the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/tsrunner/internal/deps"
	"github.com/terrpan/tsrunner/internal/executor"
	"github.com/terrpan/tsrunner/internal/inputs"
	"github.com/terrpan/tsrunner/internal/render"
	"github.com/terrpan/tsrunner/internal/runtime"
	"github.com/terrpan/tsrunner/internal/templates"
)

// TsxLauncher is the tsx entry point inside node_modules.
var TsxLauncher = filepath.Join(deps.ModulesDir, "tsx", "dist", "cli.mjs")

var (
	// ErrLauncherNotFound is returned when tsx is missing after the
	// dependency step.
	ErrLauncherNotFound = errors.New("tsx launcher not found")

	// ErrEntryNotFound is returned when rendering did not produce the
	// entry module.
	ErrEntryNotFound = errors.New("entry file not found")
)

// Console is the CI log channel.  actions.Host implements it.
type Console interface {
	Info(msg string)
	Warning(msg string)
	Group(name string, fn func() error) error
	Highlight(s string) string
	Good(s string) string
}

// Config wires the components of a run.
type Config struct {
	Inputs    inputs.Inputs
	Workspace interface{ Create() (string, error) }
	Runtime   runtime.Installer
	Deps      *deps.Installer
	Renderer  *render.Renderer
	Executor  executor.Executor
	Console   Console
	Logger    *slog.Logger

	// TemplateDir is an on-disk template tree.  Empty selects the
	// embedded template set.
	TemplateDir string
}

// Result describes a finished run.
type Result struct {
	Workspace string
	Entry     string
	Runtime   runtime.Handle
	Files     []render.File
	Output    string
}

// Runner executes the pipeline.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	// OpenTelemetry instrumentation
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	stepsCompleted metric.Int64Counter
	stepDuration   metric.Float64Histogram
	runsCompleted  metric.Int64Counter
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Runner{
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: otel.Tracer("tsrunner/pipeline"),
		meter:  otel.Meter("tsrunner/pipeline"),
	}

	// Initialize metrics (errors are logged but not fatal)
	var err error
	r.stepsCompleted, err = r.meter.Int64Counter(
		"tsrunner.steps.completed",
		metric.WithDescription("Total number of pipeline steps completed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create stepsCompleted counter", slog.String("error", err.Error()))
	}

	r.stepDuration, err = r.meter.Float64Histogram(
		"tsrunner.step.duration",
		metric.WithDescription("Time spent in a pipeline step (seconds)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create stepDuration histogram", slog.String("error", err.Error()))
	}

	r.runsCompleted, err = r.meter.Int64Counter(
		"tsrunner.runs.completed",
		metric.WithDescription("Total number of runs by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create runsCompleted counter", slog.String("error", err.Error()))
	}

	return r
}

// Run performs every step in order.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	in := r.cfg.Inputs
	kind := runtime.KindFor(in.Bun)
	span.SetAttributes(
		attribute.String("runtime.kind", string(kind)),
		attribute.Bool("inputs.auto_install", in.AutoInstall),
		attribute.Int("inputs.packages", len(in.Packages)),
	)

	res, err := r.run(ctx)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		var exitErr *executor.ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			r.cfg.Console.Warning(exitErr.Stderr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if r.runsCompleted != nil {
		r.runsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return res, err
}

func (r *Runner) run(ctx context.Context) (*Result, error) {
	in := r.cfg.Inputs
	con := r.cfg.Console
	res := &Result{}

	// ---------------------------------------------------------------
	// 1. Workspace
	// ---------------------------------------------------------------
	if err := r.step(ctx, "workspace", func(context.Context) error {
		dir, err := r.cfg.Workspace.Create()
		res.Workspace = dir
		return err
	}); err != nil {
		return res, err
	}
	con.Info("Directory: " + con.Highlight(res.Workspace))
	res.Entry = filepath.Join(res.Workspace, filepath.FromSlash(templates.EntryFile))

	// ---------------------------------------------------------------
	// 2. Runtime
	// ---------------------------------------------------------------
	con.Info("Runner: " + con.Good(string(runtime.KindFor(in.Bun))))
	if err := r.step(ctx, "runtime", func(ctx context.Context) error {
		h, err := r.cfg.Runtime.Ensure(ctx)
		res.Runtime = h
		return err
	}); err != nil {
		return res, fmt.Errorf("ensuring runtime: %w", err)
	}

	// ---------------------------------------------------------------
	// 3. Dependencies
	// ---------------------------------------------------------------
	if err := r.step(ctx, "dependencies", func(ctx context.Context) error {
		req := deps.Request{
			Workspace:   res.Workspace,
			Packages:    in.Packages,
			UseBun:      in.Bun,
			UseZx:       in.Zx,
			AutoInstall: in.AutoInstall,
			Silent:      in.Silent,
		}
		if in.Bun {
			req.Manager = res.Runtime.Path
		}
		return r.cfg.Deps.Install(ctx, req)
	}); err != nil {
		return res, err
	}

	// ---------------------------------------------------------------
	// 4. Templates
	// ---------------------------------------------------------------
	_ = con.Group("Script", func() error {
		con.Info(in.Script)
		return nil
	})

	if err := r.step(ctx, "render", func(context.Context) error {
		root, cleanup, err := r.templateRoot()
		if err != nil {
			return err
		}
		defer cleanup()

		res.Files, err = r.cfg.Renderer.Render(root, res.Workspace, render.Values{
			Script: in.Script,
			Bun:    in.Bun,
			Zx:     in.Zx,
			Debug:  in.Debug,
		})
		if err != nil {
			return fmt.Errorf("rendering templates: %w", err)
		}
		return nil
	}); err != nil {
		return res, err
	}

	content, err := os.ReadFile(res.Entry)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrEntryNotFound, res.Entry, err)
	}
	_ = con.Group("Content", func() error {
		con.Info(string(content))
		return nil
	})

	// ---------------------------------------------------------------
	// 5. Script
	// ---------------------------------------------------------------
	cmd, err := r.scriptCommand(res)
	if err != nil {
		return res, err
	}
	if err := r.step(ctx, "execute", func(ctx context.Context) error {
		out, err := r.cfg.Executor.Run(ctx, cmd)
		if out != nil {
			res.Output = out.Stdout
		}
		return err
	}); err != nil {
		return res, fmt.Errorf("running script: %w", err)
	}

	r.logger.Info("script finished",
		slog.String("workspace", res.Workspace),
		slog.Int("outputBytes", len(res.Output)),
	)
	return res, nil
}

// scriptCommand builds the command that runs the entry module.
func (r *Runner) scriptCommand(res *Result) (executor.Command, error) {
	cmd := executor.Command{
		Path:   res.Runtime.Path,
		Dir:    res.Workspace,
		Silent: r.cfg.Inputs.Silent,
	}

	if res.Runtime.Kind == runtime.KindBun {
		cmd.Args = []string{"run", "-i", res.Entry}
		return cmd, nil
	}

	launcher := filepath.Join(res.Workspace, TsxLauncher)
	if _, err := os.Stat(launcher); err != nil {
		return executor.Command{}, fmt.Errorf("%w: %s", ErrLauncherNotFound, launcher)
	}
	cmd.Args = []string{launcher, res.Entry}
	return cmd, nil
}

// templateRoot returns the template directory to render from and a
// cleanup function for any temporary copy.
func (r *Runner) templateRoot() (string, func(), error) {
	if r.cfg.TemplateDir != "" {
		return r.cfg.TemplateDir, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "tsrunner-templates-")
	if err != nil {
		return "", nil, fmt.Errorf("creating template directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove template directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := templates.Materialize(dir); err != nil {
		cleanup()
		return "", nil, err
	}
	return dir, cleanup, nil
}

// step runs fn inside a span and records its duration.
func (r *Runner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	attrs := metric.WithAttributes(attribute.String("step", name))
	if r.stepDuration != nil {
		r.stepDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("step failed", slog.String("step", name), slog.String("error", err.Error()))
		return err
	}
	if r.stepsCompleted != nil {
		r.stepsCompleted.Add(ctx, 1, attrs)
	}
	r.logger.Debug("step completed", slog.String("step", name), slog.Duration("took", time.Since(start)))
	return nil
}
