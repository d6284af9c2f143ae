package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// Sandbox runs agent invocations inside a Docker container with the workspace
// bind-mounted at /workspace. Optional; the default invocation path is a
// direct subprocess.
type Sandbox struct {
	client   *client.Client
	image    string
	autoPull bool
	logger   *slog.Logger
}

// NewSandbox creates a sandbox backed by the local Docker daemon and verifies
// the daemon is reachable immediately to fail fast.
func NewSandbox(imageName string, autoPull bool, logger *slog.Logger) (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{client: cli, image: imageName, autoPull: autoPull, logger: logger}, nil
}

// Close closes the Docker client.
func (s *Sandbox) Close() error {
	return s.client.Close()
}

// EnsureImage ensures the sandbox image is available locally, pulling if allowed.
func (s *Sandbox) EnsureImage(ctx context.Context) error {
	images, err := s.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == s.image {
				return nil
			}
		}
	}

	if !s.autoPull {
		return fmt.Errorf("image %s not found locally and auto-pull is disabled", s.image)
	}

	reader, err := s.client.ImagePull(ctx, s.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", s.image, err)
	}
	defer func() { _ = reader.Close() }()

	// Consume the output to wait for completion
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}
	return nil
}

// Run executes argv inside a fresh container with workspaceDir mounted at
// /workspace. The container is removed on every exit path. The caller's
// context carries the wall-clock timeout; expiry returns the output captured
// so far along with the context error.
func (s *Sandbox) Run(ctx context.Context, workspaceDir string, argv []string, env map[string]string) ([]byte, error) {
	containerEnv := []string{"HOME=/tmp"}
	for k, v := range env {
		containerEnv = append(containerEnv, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:      s.image,
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
		User:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Env:        containerEnv,
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workspaceDir,
				Target: "/workspace",
			},
		},
	}

	name := fmt.Sprintf("patchbench-%s", uuid.NewString()[:8])
	resp, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := resp.ID
	defer func() {
		s.logger.Debug("removing sandbox container", "id", containerID[:12])
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.client.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true})
	}()

	if err := s.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	execResp, err := s.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attachResp, err := s.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}

	// stdcopy.StdCopy blocks until EOF and does not check context
	// cancellation, so run it in a goroutine and close the connection if the
	// timeout fires. The mutex guards buffer access from both goroutines.
	var stdout, stderr bytes.Buffer
	var bufMu sync.Mutex
	copyDone := make(chan error, 1)

	go func() {
		bufMu.Lock()
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		bufMu.Unlock()
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		attachResp.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-ctx.Done():
		attachResp.Close()
		<-copyDone
		bufMu.Lock()
		combined := append(stdout.Bytes(), stderr.Bytes()...)
		bufMu.Unlock()
		return combined, ctx.Err()
	}

	return append(stdout.Bytes(), stderr.Bytes()...), nil
}
