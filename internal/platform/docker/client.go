// Package docker implements the isolation runtime on the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/dontdude/javabox/internal/domain"
)

// sandboxLabel marks every container created by the judge.
const sandboxLabel = "io.javabox.sandbox"

// Config describes the sandbox containers.
type Config struct {
	Image          string
	WorkDir        string
	MemoryMB       int64
	PIDsLimit      int64
	NetworkEnabled bool
}

// Runtime wraps the official Docker SDK client.
type Runtime struct {
	cli    *client.Client
	cfg    Config
	logger *slog.Logger
}

var _ domain.Runtime = (*Runtime)(nil)

// NewRuntime connects to the daemon configured in the environment and pings it.
func NewRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}

	logger.Info("Docker client initialized", "image", cfg.Image)
	return &Runtime{cli: cli, cfg: cfg, logger: logger}, nil
}

// EnsureImage pulls the sandbox image unless it is already present.
func (r *Runtime) EnsureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.cfg.Image)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", r.cfg.Image, err)
	}

	r.logger.Info("Pulling image", "image", r.cfg.Image)
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", r.cfg.Image, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pulling image %s: %w", r.cfg.Image, err)
	}
	r.logger.Info("Image pulled", "image", r.cfg.Image)
	return nil
}

// Create provisions an idle container that keeps running until removed.
func (r *Runtime) Create(ctx context.Context, name string) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx, r.containerConfig(), r.hostConfig(), nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", name, err)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn("Container created with warning", "containerID", resp.ID, "warning", w)
	}
	return resp.ID, nil
}

func (r *Runtime) Start(ctx context.Context, runtimeID string) error {
	if err := r.cli.ContainerStart(ctx, runtimeID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", runtimeID, err)
	}
	return nil
}

// PutFiles copies files into dir below the work dir as a tar stream.
func (r *Runtime) PutFiles(ctx context.Context, runtimeID, dir string, files []domain.File) error {
	archive, err := BuildArchive(dir, files)
	if err != nil {
		return err
	}
	if err := r.cli.CopyToContainer(ctx, runtimeID, r.cfg.WorkDir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying %d files into %s: %w", len(files), runtimeID, err)
	}
	return nil
}

func (r *Runtime) Exec(ctx context.Context, runtimeID string, cmd []string) (string, error) {
	resp, err := r.cli.ContainerExecCreate(ctx, runtimeID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   r.cfg.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("creating exec in %s: %w", runtimeID, err)
	}
	return resp.ID, nil
}

// ExecStart starts the exec by attaching to it. The stream uses the docker multiplexed framing.
func (r *Runtime) ExecStart(ctx context.Context, execID string) (io.ReadCloser, error) {
	resp, err := r.cli.ContainerExecAttach(ctx, execID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec %s: %w", execID, err)
	}
	return &hijackedStream{resp: resp}, nil
}

func (r *Runtime) ExecInspect(ctx context.Context, execID string) (domain.ExecState, error) {
	resp, err := r.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return domain.ExecState{}, fmt.Errorf("inspecting exec %s: %w", execID, err)
	}
	return domain.ExecState{Running: resp.Running, ExitCode: resp.ExitCode}, nil
}

func (r *Runtime) Kill(ctx context.Context, runtimeID string) error {
	err := r.cli.ContainerKill(ctx, runtimeID, "SIGKILL")
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("killing container %s: %w", runtimeID, err)
	}
	return nil
}

func (r *Runtime) Remove(ctx context.Context, runtimeID string) error {
	err := r.cli.ContainerRemove(ctx, runtimeID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", runtimeID, err)
	}
	return nil
}

// PruneSandboxes removes sandbox containers left behind by an earlier process.
func (r *Runtime) PruneSandboxes(ctx context.Context) (int, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", sandboxLabel)),
	})
	if err != nil {
		return 0, fmt.Errorf("listing sandboxes: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := r.Remove(ctx, c.ID); err != nil {
			r.logger.Warn("Failed to prune sandbox", "containerID", c.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("Pruned leftover sandboxes", "count", removed)
	}
	return removed, nil
}

// Close releases the client's connections.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

func (r *Runtime) containerConfig() *container.Config {
	return &container.Config{
		Image:           r.cfg.Image,
		Cmd:             []string{"sleep", "infinity"},
		WorkingDir:      r.cfg.WorkDir,
		NetworkDisabled: !r.cfg.NetworkEnabled,
		Labels:          map[string]string{sandboxLabel: "true"},
	}
}

func (r *Runtime) hostConfig() *container.HostConfig {
	hc := &container.HostConfig{
		Resources: container.Resources{
			Memory:     r.cfg.MemoryMB * 1024 * 1024,
			MemorySwap: r.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs:   1_000_000_000,
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		// CopyToContainer cannot write into tmpfs mounts, so only /tmp is one.
		Tmpfs: map[string]string{"/tmp": "rw,noexec,nosuid,size=16m,mode=1777"},
	}
	if r.cfg.PIDsLimit > 0 {
		limit := r.cfg.PIDsLimit
		hc.Resources.PidsLimit = &limit
	}
	if !r.cfg.NetworkEnabled {
		hc.NetworkMode = "none"
	}
	return hc
}

type hijackedStream struct {
	resp types.HijackedResponse
}

func (s *hijackedStream) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

func (s *hijackedStream) Close() error {
	s.resp.Close()
	return nil
}
