package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/ryanmoran/worldsync/internal"
	"github.com/ryanmoran/worldsync/internal/log"
)

// ErrNotFound is returned when no container carries the requested name.
var ErrNotFound = errors.New("container not found")

// Workload describes the game server container.
type Workload struct {
	Name       internal.ContainerName
	Image      internal.ImageName
	Command    internal.Command
	Env        internal.Environment
	Volumes    []string
	WorkingDir string
	Network    string
	// Memory limits the container in bytes; zero means unlimited.
	Memory      int64
	StopTimeout int
}

// Status is a point-in-time view of the workload container.
type Status struct {
	Name    string
	ID      string
	Image   string
	State   string
	Detail  string
	Exists  bool
	Running bool
}

type Client struct {
	client DockerClient
}

// NewClient creates a Client that wraps the provided Docker client interface.
func NewClient(dockerClient DockerClient) Client {
	return Client{
		client: dockerClient,
	}
}

// NewDefaultClient creates a Client with a real Docker client from the environment.
func NewDefaultClient() (Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return Client{}, fmt.Errorf("failed to create docker client: %w\nEnsure Docker is running and DOCKER_HOST is set correctly", err)
	}

	return NewClient(cli), nil
}

// Close closes the underlying Docker client connection.
func (c Client) Close() {
	c.client.Close()
}

// Ping pings the Docker daemon and returns the API version if successful.
func (c Client) Ping(ctx context.Context) (string, error) {
	ping, err := c.client.Ping(ctx, client.PingOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to ping docker daemon: %w\nMake sure Docker is installed and running (try 'docker ps')", err)
	}
	return ping.APIVersion, nil
}

// Start runs the workload detached. A container already carrying the
// workload's name is removed first, so a crashed previous run never blocks
// a new one.
func (c Client) Start(ctx context.Context, w Workload) (Container, error) {
	if existing, err := c.find(ctx, string(w.Name)); err == nil {
		log.Info().Str("container", string(w.Name)).Str("state", string(existing.State)).Msg("removing previous container")
		stale := Container{client: c.client, ID: existing.ID, Name: string(w.Name)}
		if err := stale.ForceRemove(ctx); err != nil {
			return Container{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Container{}, err
	}

	hostConfig := &container.HostConfig{
		Binds:       w.Volumes,
		NetworkMode: container.NetworkMode(w.Network),
	}
	hostConfig.Memory = w.Memory

	response, err := c.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:      string(w.Image),
			Cmd:        []string(w.Command),
			Env:        []string(w.Env),
			WorkingDir: w.WorkingDir,
		},
		HostConfig: hostConfig,
		Name:       string(w.Name),
	})
	if err != nil {
		return Container{}, fmt.Errorf("failed to create container %q from image %q: %w\nEnsure image exists and container config is valid", w.Name, w.Image, err)
	}

	created := Container{
		client:      c.client,
		ID:          response.ID,
		Name:        string(w.Name),
		StopTimeout: w.StopTimeout,
	}

	if err := created.Start(ctx); err != nil {
		if rmErr := created.ForceRemove(ctx); rmErr != nil {
			log.Warn().Err(rmErr).Str("container", created.Name).Msg("failed to clean up container")
		}
		return Container{}, err
	}

	log.Info().Str("container", created.Name).Str("id", created.ID).Msg("container started")
	return created, nil
}

// Stop gracefully stops the named container and removes it. A missing
// container is not an error.
func (c Client) Stop(ctx context.Context, name internal.ContainerName, stopTimeout int) error {
	existing, err := c.find(ctx, string(name))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	target := Container{client: c.client, ID: existing.ID, Name: string(name), StopTimeout: stopTimeout}
	if err := target.Stop(ctx); err != nil {
		return err
	}

	return target.Remove(ctx)
}

// Status reports the named container's state. A missing container yields
// a Status with Exists false.
func (c Client) Status(ctx context.Context, name internal.ContainerName) (Status, error) {
	existing, err := c.find(ctx, string(name))
	if errors.Is(err, ErrNotFound) {
		return Status{Name: string(name), State: "absent"}, nil
	}
	if err != nil {
		return Status{}, err
	}

	state := string(existing.State)
	return Status{
		Name:    string(name),
		ID:      existing.ID,
		Image:   existing.Image,
		State:   state,
		Detail:  existing.Status,
		Exists:  true,
		Running: state == "running",
	}, nil
}

func (c Client) find(ctx context.Context, name string) (container.Summary, error) {
	result, err := c.client.ContainerList(ctx, client.ContainerListOptions{All: true})
	if err != nil {
		return container.Summary{}, fmt.Errorf("failed to list containers: %w\nMake sure Docker is installed and running (try 'docker ps')", err)
	}

	for _, item := range result.Items {
		for _, candidate := range item.Names {
			if strings.TrimPrefix(candidate, "/") == name {
				return item, nil
			}
		}
	}

	return container.Summary{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}
