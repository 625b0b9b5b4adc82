package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerLauncher starts and stops an engine that runs in an existing container.
type DockerLauncher struct {
	client      *client.Client
	container   string
	stopTimeout int // seconds
	logger      *slog.Logger
}

// NewDockerLauncher creates a launcher for the named container using the
// Docker daemon configured in the environment.
func NewDockerLauncher(kind Kind, containerName string, stopTimeout int) (*DockerLauncher, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerLauncher{
		client:      dockerClient,
		container:   containerName,
		stopTimeout: stopTimeout,
		logger:      slog.With("engine", kind, "container", containerName),
	}, nil
}

// Start starts the container. Starting a running container is a no-op.
func (l *DockerLauncher) Start(ctx context.Context) error {
	if err := l.client.ContainerStart(ctx, l.container, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", l.container, err)
	}
	l.logger.Info("Engine container started")
	return nil
}

// Stop stops the container, killing it after the stop timeout.
func (l *DockerLauncher) Stop(ctx context.Context) error {
	timeout := l.stopTimeout
	if err := l.client.ContainerStop(ctx, l.container, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", l.container, err)
	}
	l.logger.Info("Engine container stopped")
	return nil
}

// Ping verifies the Docker daemon is reachable.
func (l *DockerLauncher) Ping(ctx context.Context) error {
	if _, err := l.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

// DaemonCheck returns a readiness check that pings the Docker daemon of every
// container-backed launcher. It returns nil when no launcher uses Docker.
func DaemonCheck(launchers map[Kind]Launcher) func(ctx context.Context) error {
	var pingers []*DockerLauncher
	for _, l := range launchers {
		if d, ok := l.(*DockerLauncher); ok {
			pingers = append(pingers, d)
		}
	}
	if len(pingers) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		for _, d := range pingers {
			if err := d.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// CloseLaunchers releases launchers that hold client connections.
func CloseLaunchers(launchers map[Kind]Launcher) error {
	var errs []error
	for kind, l := range launchers {
		c, ok := l.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}
