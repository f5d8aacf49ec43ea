// Package docker implements the executor.Executor interface by running
// each command in a throwaway container with the workspace bind-mounted.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/terrpan/tsrunner/internal/executor"
)

// WorkDir is where the command's working directory is mounted inside
// the container.
const WorkDir = "/workspace"

// Config holds Docker-specific settings.
type Config struct {
	// Image is the container image providing the runtime (bun or node).
	Image string
}

// Executor runs commands inside containers created from a single image.
type Executor struct {
	client *dockerclient.Client
	image  string
	out    io.Writer
	logger *slog.Logger

	mu         sync.Mutex
	containers map[string]string // name -> containerID
}

// Compile-time check that Executor satisfies the executor.Executor interface.
var _ executor.Executor = (*Executor)(nil)

// New creates a Docker executor, connects to the daemon, and pulls the
// runtime image so it is available for container creation.
func New(ctx context.Context, cfg Config, out io.Writer, logger *slog.Logger) (*Executor, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker executor: image is required")
	}

	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	logger.Info("pulling runtime image", slog.String("image", cfg.Image))

	pull, err := client.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("image pull %s: %w", cfg.Image, err)
	}
	// Drain and close the pull stream so the image is fully downloaded.
	if _, err := io.Copy(io.Discard, pull); err != nil {
		return nil, fmt.Errorf("reading image pull response: %w", err)
	}
	if err := pull.Close(); err != nil {
		return nil, fmt.Errorf("closing image pull stream: %w", err)
	}

	logger.Info("runtime image ready", slog.String("image", cfg.Image))

	return &Executor{
		client:     client,
		image:      cfg.Image,
		out:        out,
		logger:     logger,
		containers: make(map[string]string),
	}, nil
}

// Run creates a container for cmd, waits for it to exit, collects its
// logs and removes it.
func (e *Executor) Run(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
	if cmd.Dir == "" {
		return nil, fmt.Errorf("docker executor: command %q has no working directory to mount", cmd.String())
	}

	argv := make([]string, 0, len(cmd.Args)+1)
	argv = append(argv, ContainerPath(cmd.Dir, cmd.Path))
	for _, a := range cmd.Args {
		argv = append(argv, ContainerPath(cmd.Dir, a))
	}

	name := fmt.Sprintf("tsrunner-%s", uuid.NewString()[:8])

	resp, err := e.client.ContainerCreate(
		ctx,
		&container.Config{
			Image:      e.image,
			Cmd:        argv,
			Env:        cmd.Env,
			WorkingDir: WorkDir,
		},
		&container.HostConfig{
			Binds: []string{cmd.Dir + ":" + WorkDir},
		},
		nil, // networking config
		nil, // platform
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("container create %s: %w", name, err)
	}

	e.mu.Lock()
	e.containers[name] = resp.ID
	e.mu.Unlock()
	defer e.remove(context.WithoutCancel(ctx), name, resp.ID)

	e.logger.Debug("running command in container",
		slog.String("command", cmd.String()),
		slog.String("container", name),
	)

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container start %s: %w", name, err)
	}

	var exitCode int64
	statusCh, errCh := e.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("container wait %s: %w", name, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := e.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs %s: %w", name, err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	var outW, errW io.Writer = &stdout, &stderr
	if !cmd.Silent && e.out != nil {
		outW = io.MultiWriter(&stdout, e.out)
		errW = io.MultiWriter(&stderr, e.out)
	}
	if _, err := stdcopy.StdCopy(outW, errW, logs); err != nil {
		return nil, fmt.Errorf("reading container logs %s: %w", name, err)
	}

	res := &executor.Result{
		Stdout:   executor.TrimOutput(stdout.String()),
		Stderr:   executor.TrimOutput(stderr.String()),
		ExitCode: int(exitCode),
	}
	if exitCode != 0 {
		return res, &executor.ExitError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

// Shutdown force-removes every container this executor is still tracking.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	snapshot := make(map[string]string, len(e.containers))
	for k, v := range e.containers {
		snapshot[k] = v
	}
	e.mu.Unlock()

	var firstErr error
	for name, id := range snapshot {
		if err := e.remove(ctx, name, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Executor) remove(ctx context.Context, name, id string) error {
	err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		e.logger.Error("failed to remove container",
			slog.String("name", name),
			slog.String("containerID", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("container remove %s: %w", id, err)
	}

	e.mu.Lock()
	delete(e.containers, name)
	e.mu.Unlock()
	return nil
}

// ContainerPath maps a host path below hostDir to the same path below
// WorkDir.  Anything else is returned unchanged.
func ContainerPath(hostDir, p string) string {
	rel, err := filepath.Rel(hostDir, p)
	if err != nil || !filepath.IsAbs(p) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	if rel == "." {
		return WorkDir
	}
	return WorkDir + "/" + filepath.ToSlash(rel)
}
