package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/terrpan/tsrunner/internal/actions"
	"github.com/terrpan/tsrunner/internal/buildinfo"
	"github.com/terrpan/tsrunner/internal/config"
	"github.com/terrpan/tsrunner/internal/health"
	"github.com/terrpan/tsrunner/internal/inputs"
	"github.com/terrpan/tsrunner/internal/otel"
	"github.com/terrpan/tsrunner/internal/pipeline"
	"github.com/terrpan/tsrunner/internal/render"
	"github.com/terrpan/tsrunner/internal/report"
)

// errReported marks a failure that was already signalled to the CI host.
var errReported = errors.New("run failed")

var (
	cfgPath       string
	flagOverrides config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tsrunner",
	Short: "Run an inline TypeScript script in a GitHub Actions step",
	Long: `tsrunner renders a throwaway project around a TypeScript script,
installs its packages and runs it with bun or tsx.

Inputs are read from flags or the INPUT_<NAME> variables the Actions
runner sets.  Tool settings come from a YAML file (--config) with
optional CLI flag overrides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		host := actions.NewHost(os.Stdout, nil)
		_ = report.Outcome(host, run(ctx, cmd, host))
		if host.Failed() {
			return errReported
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:          "doctor",
	Short:        "Check that the runtime for the configured mode is available",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		resp := health.Collect(health.Options{Mode: cfg.Mode, Executor: cfg.Executor.Type})
		if err := health.Write(cmd.OutOrStdout(), resp); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		if resp.Status != health.StatusHealthy {
			return fmt.Errorf("status %s: a required runtime is missing", resp.Status)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Config file
	pf.StringVar(&cfgPath, "config", "tsrunner.yaml", "Path to YAML configuration file")

	// Config overrides
	pf.StringVar(&flagOverrides.Mode, "mode", "", "Runtime mode (node, bun)")
	pf.StringVar(&flagOverrides.Executor.Type, "executor", "", "Process backend (local, docker)")
	pf.StringVar(&flagOverrides.Templates.Dir, "templates", "", "Template directory (default: embedded templates)")
	pf.StringVar(&flagOverrides.Logging.Level, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagOverrides.Logging.Format, "log-format", "", "Log format (text, json, pretty)")

	// Action inputs
	inputs.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(doctorCmd, versionCmd)
}

// applyFlagOverrides merges non-zero CLI flag values into the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if flagOverrides.Mode != "" {
		cfg.Mode = flagOverrides.Mode
	}
	if flagOverrides.Executor.Type != "" {
		cfg.Executor.Type = flagOverrides.Executor.Type
	}
	if flagOverrides.Templates.Dir != "" {
		cfg.Templates.Dir = flagOverrides.Templates.Dir
	}
	if flagOverrides.Logging.Level != "" {
		cfg.Logging.Level = flagOverrides.Logging.Level
	}
	if flagOverrides.Logging.Format != "" {
		cfg.Logging.Format = flagOverrides.Logging.Format
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, host *actions.Host) error {
	// ---------------------------------------------------------------
	// 1. Load configuration
	// ---------------------------------------------------------------
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// ---------------------------------------------------------------
	// 2. Resolve inputs
	// ---------------------------------------------------------------
	in, err := inputs.Resolve(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeBun {
		in = in.WithBunForced()
	}

	// ---------------------------------------------------------------
	// 3. Create logger
	// ---------------------------------------------------------------
	logger := cfg.NewLogger(os.Stderr, in.Debug || host.IsDebug())
	logger.Info("configuration loaded",
		slog.String("configFile", cfgPath),
		slog.String("mode", cfg.Mode),
		slog.String("executor", cfg.Executor.Type),
		slog.Bool("bun", in.Bun),
		slog.Bool("zx", in.Zx),
		slog.Int("packages", len(in.Packages)),
	)

	// ---------------------------------------------------------------
	// 4. Telemetry
	// ---------------------------------------------------------------
	shutdownOTel, err := otel.SetupOTelSDK(ctx, "tsrunner", cfg.OTelConfig())
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to shut down telemetry", slog.String("error", err.Error()))
		}
	}()

	host.Info("Mode: " + host.Highlight(cfg.Mode))

	// ---------------------------------------------------------------
	// 5. Executor
	// ---------------------------------------------------------------
	exec, err := cfg.NewExecutor(ctx, in.Bun, host.Writer(), logger)
	if err != nil {
		return fmt.Errorf("initializing executor: %w", err)
	}
	defer func() {
		if err := exec.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to shut down executor", slog.String("error", err.Error()))
		}
	}()

	// ---------------------------------------------------------------
	// 6. Run
	// ---------------------------------------------------------------
	runner := pipeline.New(pipeline.Config{
		Inputs:      in,
		Workspace:   cfg.NewWorkspace(logger),
		Runtime:     cfg.NewRuntimeInstaller(in, exec, host.Writer(), logger),
		Deps:        cfg.NewDepsInstaller(exec, logger),
		Renderer:    render.New(logger.WithGroup("render")),
		Executor:    exec,
		Console:     host,
		Logger:      logger.WithGroup("pipeline"),
		TemplateDir: cfg.Templates.Dir,
	})

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	host.Debug(fmt.Sprintf("workspace %s: rendered %d files", res.Workspace, len(res.Files)))
	for _, f := range res.Files {
		if f.Dest == res.Entry {
			host.Debug(fmt.Sprintf("entry %s blake3:%s", f.Dest, f.Digest))
		}
	}
	return nil
}
