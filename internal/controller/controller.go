// Package controller ties the session workflow to the game server: it
// prepares the server configuration, runs the container, and makes sure
// the world is flushed to disk before anything is committed.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ryanmoran/worldsync/internal"
	"github.com/ryanmoran/worldsync/internal/docker"
	"github.com/ryanmoran/worldsync/internal/log"
	"github.com/ryanmoran/worldsync/internal/props"
	"github.com/ryanmoran/worldsync/internal/session"
)

// FlushCommand asks the server to write every loaded chunk to disk.
const FlushCommand = "save-all flush"

var ErrPlayersOnline = errors.New("players are online")

// Sessions is the session workflow the controller drives.
type Sessions interface {
	Start(ctx context.Context) (string, error)
	Checkout(ctx context.Context) (string, error)
	Save(ctx context.Context, message string) (bool, error)
	Stop(ctx context.Context) (string, error)
	Autosave(ctx context.Context) error
	Status() session.State
}

// Containers runs the workload.
type Containers interface {
	Start(ctx context.Context, w docker.Workload) (docker.Container, error)
	Stop(ctx context.Context, name internal.ContainerName, stopTimeout int) error
	Status(ctx context.Context, name internal.ContainerName) (docker.Status, error)
}

// Console reaches the running server.
type Console interface {
	Run(ctx context.Context, command string) (string, error)
	ListPlayers(ctx context.Context) ([]string, error)
}

// RemoteConsole is the console configuration enforced in server.properties.
type RemoteConsole struct {
	Enable   bool
	Port     int
	Password string
}

// Report describes the deployment at a point in time.
type Report struct {
	Container    docker.Status
	Players      []string
	PlayersKnown bool
	Session      session.State
}

type Controller struct {
	sessions   Sessions
	containers Containers
	console    Console
	workload   docker.Workload
	serverDir  string
	rcon       RemoteConsole
}

// New returns a Controller. containers and console may be nil when the
// server is managed outside this process or has no remote console.
func New(sessions Sessions, containers Containers, console Console, workload docker.Workload, serverDir string, rcon RemoteConsole) *Controller {
	return &Controller{
		sessions:   sessions,
		containers: containers,
		console:    console,
		workload:   workload,
		serverDir:  serverDir,
		rcon:       rcon,
	}
}

// Start opens a session, enforces the server configuration in the fresh
// checkout and starts the server. It returns the session branch.
func (c *Controller) Start(ctx context.Context) (string, error) {
	branch, err := c.sessions.Start(ctx)
	if err != nil {
		return "", err
	}

	return branch, c.launch(ctx, branch)
}

// Resume checks out the session restored from an earlier run and starts
// the server on it.
func (c *Controller) Resume(ctx context.Context) (string, error) {
	branch, err := c.sessions.Checkout(ctx)
	if err != nil {
		return "", err
	}

	log.Info().Str("branch", branch).Msg("resuming session")
	return branch, c.launch(ctx, branch)
}

func (c *Controller) launch(ctx context.Context, branch string) error {
	if c.rcon.Enable {
		serverPort, err := props.EnsureRemoteConsole(c.serverDir, c.rcon.Port, c.rcon.Password)
		if err != nil {
			return fmt.Errorf("failed to configure %s: %w\nThe session %s is still active; run stop to end it", props.FileName, err, branch)
		}
		log.Info().Int("server_port", serverPort).Int("rcon_port", c.rcon.Port).Msg("server configured")
	}

	if c.containers != nil {
		if _, err := c.containers.Start(ctx, c.workload); err != nil {
			return fmt.Errorf("%w\nThe session %s is still active; run stop to end it", err, branch)
		}
	}

	return nil
}

// Save flushes the world and saves the session.
func (c *Controller) Save(ctx context.Context, message string) (bool, error) {
	c.flush(ctx)
	return c.sessions.Save(ctx, message)
}

// Autosave flushes the world and saves the session when one is active.
func (c *Controller) Autosave(ctx context.Context) error {
	if !c.sessions.Status().Active() {
		return nil
	}

	c.flush(ctx)
	return c.sessions.Autosave(ctx)
}

// Stop refuses while players are connected unless force is set, then
// flushes the world, stops the server and ends the session.
func (c *Controller) Stop(ctx context.Context, force bool) (string, error) {
	if c.console != nil {
		players, err := c.console.ListPlayers(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("could not list players, assuming none online")
		case len(players) > 0 && !force:
			return "", fmt.Errorf("%w: %s\nUse --force to stop anyway", ErrPlayersOnline, strings.Join(players, ", "))
		case len(players) > 0:
			log.Warn().Strs("players", players).Msg("stopping with players online")
		}
	}

	c.flush(ctx)

	if c.containers != nil {
		if err := c.containers.Stop(ctx, c.workload.Name, c.workload.StopTimeout); err != nil {
			return "", err
		}
	}

	if !c.sessions.Status().Active() {
		return "", session.ErrNoSession
	}

	return c.sessions.Stop(ctx)
}

// Status gathers the container state, online players and session.
func (c *Controller) Status(ctx context.Context) (Report, error) {
	report := Report{Session: c.sessions.Status()}

	if c.containers != nil {
		status, err := c.containers.Status(ctx, c.workload.Name)
		if err != nil {
			return report, err
		}
		report.Container = status
	}

	if c.console != nil && (c.containers == nil || report.Container.Running) {
		players, err := c.console.ListPlayers(ctx)
		if err == nil {
			report.Players = players
			report.PlayersKnown = true
		}
	}

	return report, nil
}

func (c *Controller) flush(ctx context.Context) {
	if c.console == nil {
		return
	}

	if _, err := c.console.Run(ctx, FlushCommand); err != nil {
		log.Warn().Err(err).Msg("world flush failed, saving files as they are")
	}
}
