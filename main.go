package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/worldsync/internal"
	"github.com/ryanmoran/worldsync/internal/autosave"
	"github.com/ryanmoran/worldsync/internal/controller"
	"github.com/ryanmoran/worldsync/internal/docker"
	"github.com/ryanmoran/worldsync/internal/git"
	"github.com/ryanmoran/worldsync/internal/log"
	"github.com/ryanmoran/worldsync/internal/props"
	"github.com/ryanmoran/worldsync/internal/rcon"
	"github.com/ryanmoran/worldsync/internal/relay"
	"github.com/ryanmoran/worldsync/internal/session"
)

const (
	// shutdownTimeout bounds the final save and merge once run is told to exit.
	shutdownTimeout = 5 * time.Minute

	// watchInterval is how often run checks that the server is still up.
	watchInterval = 10 * time.Second
)

var errServerExited = errors.New("server exited")

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic occurred")
			os.Exit(1)
		}
	}()

	if err := run(os.Args, os.Environ()); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args, env []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, args, env, internal.NewStandardWriter())
}

func execute(ctx context.Context, args, env []string, w internal.Writer) error {
	cleanupMgr := internal.NewCleanupManager()
	defer cleanupMgr.Execute()

	if len(args) > 0 {
		args = args[1:]
	}

	config, err := internal.ParseConfig(args, env)
	if err != nil {
		return err
	}
	log.SetLevel(config.LogLevel)

	switch config.Command {
	case "":
		return fmt.Errorf("missing command\nUsage: worldsync [flags] <%s>", strings.Join(internal.Commands, "|"))
	case "agent":
		return serveAgent(ctx, config, w)
	case "run", "start", "save", "stop", "status":
	default:
		return fmt.Errorf("unknown command %q\nUsage: worldsync [flags] <%s>", config.Command, strings.Join(internal.Commands, "|"))
	}

	a, err := newApp(config, cleanupMgr)
	if err != nil {
		return err
	}

	switch config.Command {
	case "run", "start":
		if err := a.checkDaemon(ctx); err != nil {
			return err
		}
	}

	switch config.Command {
	case "run":
		return a.serve(ctx, w)
	case "start":
		branch, err := a.controller.Start(ctx)
		if err != nil {
			return err
		}
		w.Printf("Session started on %s\n", branch)
		return nil
	case "save":
		return a.save(ctx, w)
	case "stop":
		return a.stop(ctx, config.Force, w)
	default:
		return a.status(ctx, w)
	}
}

func serveAgent(ctx context.Context, config internal.Config, w internal.Writer) error {
	runner := git.NewRunner(git.Identity{Name: config.Git.Name, Email: config.Git.Email})

	agent, err := relay.NewAgent(config.DataRoot, relay.NewExecutor(runner, props.FileName),
		relay.WithInterval(config.Agent.PollInterval),
		relay.WithResponseTTL(config.Agent.ResponseTTL),
	)
	if err != nil {
		return fmt.Errorf("failed to start relay agent in %q: %w", config.DataRoot, err)
	}

	w.Printf("Relay agent serving %s\n", agent.Layout().Root)
	return agent.Run(ctx)
}

// daemon is the part of the Docker client used to check that the daemon
// answers before a server is launched.
type daemon interface {
	Ping(ctx context.Context) (string, error)
}

type app struct {
	config     internal.Config
	client     *relay.Client
	sessions   *session.Manager
	daemon     daemon
	containers controller.Containers
	console    controller.Console
	controller *controller.Controller
}

func newApp(config internal.Config, cleanupMgr *internal.CleanupManager) (app, error) {
	runner := git.NewRunner(git.Identity{Name: config.Git.Name, Email: config.Git.Email})

	client := relay.NewClient(config.DataRoot, relay.NewExecutor(runner, props.FileName),
		relay.WithMode(config.Relay.Mode),
		relay.WithTimeout(config.Relay.Timeout),
		relay.WithPollInterval(config.Relay.PollInterval),
	)

	sessions, err := session.NewManager(client, runner, session.Repository{
		URL:      config.Repo.URL,
		Branch:   config.Repo.Branch,
		Prefix:   config.Repo.SessionPrefix,
		Path:     config.RepoDir(),
		Username: config.Repo.Username,
		Token:    config.Repo.Token,
	}, session.NewStore(config.StatePath()))
	if err != nil {
		return app{}, fmt.Errorf("failed to load session state from %q: %w", config.StatePath(), err)
	}

	a := app{
		config:   config,
		client:   client,
		sessions: sessions,
	}

	if config.Container.Name != "" {
		dockerClient, err := docker.NewDefaultClient()
		if err != nil {
			return app{}, fmt.Errorf("failed to create docker client: %w\nMake sure Docker is installed and running (try 'docker ps') or pass --no-container", err)
		}
		cleanupMgr.Add("docker-client", func() error {
			dockerClient.Close()
			return nil
		})
		a.daemon = dockerClient
		a.containers = dockerClient
	}

	if config.Rcon.Enable {
		console := rcon.New(config.Rcon.Host, config.Rcon.Port, config.Rcon.Password)
		log.Debug().Str("address", console.Address()).Msg("remote console configured")
		a.console = console
	}

	a.controller = controller.New(sessions, a.containers, a.console, workload(config), config.RepoDir(), controller.RemoteConsole{
		Enable:   config.Rcon.Enable,
		Port:     config.Rcon.Port,
		Password: config.Rcon.Password,
	})

	return a, nil
}

// checkDaemon fails early when the Docker daemon does not answer, before a
// session is opened for a server that cannot be launched.
func (a app) checkDaemon(ctx context.Context) error {
	if a.daemon == nil {
		return nil
	}

	version, err := a.daemon.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w\nOr pass --no-container to run without a server", err)
	}

	log.Debug().Str("api_version", version).Msg("docker daemon available")
	return nil
}

// workload mounts the clone as the server's data directory.
func workload(config internal.Config) docker.Workload {
	env := append(internal.Environment{"EULA=TRUE"}, config.Container.Env...)
	volumes := append([]string{config.RepoDir() + ":" + internal.DefaultServerDataDir}, config.Container.Volumes...)

	return docker.Workload{
		Name:        config.Container.Name,
		Image:       config.Container.Image,
		Command:     config.Container.Command,
		Env:         env,
		Volumes:     volumes,
		WorkingDir:  internal.DefaultServerDataDir,
		Network:     config.Container.Network,
		Memory:      config.Container.MemoryBytes,
		StopTimeout: config.Container.StopTimeout,
	}
}

// serve starts or resumes a session, autosaves until ctx is cancelled or
// the server exits, then ends the session.
func (a app) serve(ctx context.Context, w internal.Writer) error {
	var (
		branch string
		err    error
	)
	if a.sessions.Status().Active() {
		branch, err = a.controller.Resume(ctx)
	} else {
		branch, err = a.controller.Start(ctx)
	}
	if err != nil {
		return err
	}
	w.Printf("Session started on %s\n", branch)

	trigger, err := autosave.New(a.controller, a.config.SyncInterval)
	if err != nil {
		return err
	}
	log.Info().Dur("interval", trigger.Interval()).Msg("autosave scheduled")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trigger.Start(context.WithoutCancel(gctx))
		<-gctx.Done()
		trigger.Stop()
		return nil
	})
	if a.containers != nil {
		g.Go(func() error {
			return watchServer(gctx, a.containers, a.config.Container.Name, watchInterval)
		})
	}

	err = g.Wait()
	switch {
	case errors.Is(err, errServerExited):
		w.Warningf("%v, ending the session", err)
	case err != nil:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return a.stop(shutdownCtx, true, w)
}

// watchServer returns errServerExited once the container stops running.
func watchServer(ctx context.Context, containers controller.Containers, name internal.ContainerName, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		status, err := containers.Status(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("container", string(name)).Msg("failed to check server")
			continue
		}

		if !status.Running {
			return fmt.Errorf("%w: %s is %s", errServerExited, name, status.State)
		}
	}
}

func (a app) save(ctx context.Context, w internal.Writer) error {
	message := a.config.Message
	if message == "" {
		message = "manual save"
	}

	committed, err := a.controller.Save(ctx, message)
	if err != nil {
		return err
	}

	branch := a.sessions.Status().Branch
	if committed {
		w.Printf("Saved %s\n", branch)
	} else {
		w.Printf("Nothing to save on %s\n", branch)
	}
	return nil
}

func (a app) stop(ctx context.Context, force bool, w internal.Writer) error {
	branch, err := a.controller.Stop(ctx, force)
	if err != nil {
		return err
	}

	w.Printf("Session %s merged into %s\n", branch, a.sessions.Repository().Branch)
	return nil
}

func (a app) status(ctx context.Context, w internal.Writer) error {
	report, err := a.controller.Status(ctx)
	if err != nil {
		return err
	}

	relayMode := "direct"
	if a.client.Delegating() {
		relayMode = "agent"
	}

	tw := tabwriter.NewWriter(w.GetWriter(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Session:\t%s\n", describeSession(report.Session))
	if a.containers != nil {
		fmt.Fprintf(tw, "Server:\t%s\n", describeContainer(report.Container))
	}
	if a.console != nil {
		fmt.Fprintf(tw, "Players:\t%s\n", describePlayers(report))
	}
	fmt.Fprintf(tw, "Repository:\t%s (%s)\n", git.StripCredentials(a.config.Repo.URL), a.sessions.Repository().Branch)
	fmt.Fprintf(tw, "Relay:\t%s\n", relayMode)
	return tw.Flush()
}

func describeSession(state session.State) string {
	if !state.Active() {
		return "none"
	}

	lastSave := "never"
	if !state.LastSave.IsZero() {
		lastSave = state.LastSave.Local().Format(time.DateTime)
	}
	return fmt.Sprintf("%s (started %s, last save %s)", state.Branch, state.StartedAt.Local().Format(time.DateTime), lastSave)
}

func describeContainer(status docker.Status) string {
	if !status.Exists {
		return fmt.Sprintf("%s not created", status.Name)
	}
	return fmt.Sprintf("%s %s (%s)", status.Name, status.State, status.Image)
}

func describePlayers(report controller.Report) string {
	switch {
	case !report.PlayersKnown:
		return "unknown"
	case len(report.Players) == 0:
		return "none online"
	default:
		return fmt.Sprintf("%d online: %s", len(report.Players), strings.Join(report.Players, ", "))
	}
}
