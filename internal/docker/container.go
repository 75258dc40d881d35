package docker

import (
	"context"
	"fmt"

	"github.com/moby/moby/client"
)

// DefaultStopTimeout gives the server time to flush the world on SIGTERM.
const DefaultStopTimeout = 60

type Container struct {
	client DockerClient

	ID          string
	Name        string
	StopTimeout int
}

// Start starts the container. Returns an error if the container fails to start,
// which may indicate a misconfiguration or an unhealthy Docker daemon.
func (c Container) Start(ctx context.Context) error {
	_, err := c.client.ContainerStart(ctx, c.ID, client.ContainerStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to start container %q: %w\nContainer may be misconfigured or Docker daemon may be unhealthy", c.Name, err)
	}

	return nil
}

// Stop sends SIGTERM and waits up to StopTimeout seconds before the daemon
// kills the container.
func (c Container) Stop(ctx context.Context) error {
	timeout := c.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	_, err := c.client.ContainerStop(ctx, c.ID, client.ContainerStopOptions{Timeout: &timeout})
	if err != nil {
		return fmt.Errorf("failed to stop container %q: %w\nDocker daemon may be unhealthy", c.Name, err)
	}

	return nil
}

// Remove removes the container from the Docker daemon.
// Returns an error if the container is still running or cannot be removed.
// Use ForceRemove to remove a running container.
func (c Container) Remove(ctx context.Context) error {
	_, err := c.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove container %q: %w\nContainer may still be running - use ForceRemove if needed", c.Name, err)
	}

	return nil
}

// ForceRemove forcibly removes the container from the Docker daemon, even if it is still running.
// Returns an error if the container cannot be removed, which may indicate an inconsistent state.
func (c Container) ForceRemove(ctx context.Context) error {
	_, err := c.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("failed to force remove container %q: %w\nContainer may be in an inconsistent state", c.Name, err)
	}

	return nil
}
