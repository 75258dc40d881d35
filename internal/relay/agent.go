package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/worldsync/internal/log"
)

const (
	// DefaultAgentInterval is the pause between passes over the request queue.
	DefaultAgentInterval = time.Second

	// DefaultResponseTTL bounds how long an uncollected response is kept.
	DefaultResponseTTL = 10 * time.Minute
)

// Agent executes queued requests with the host's credentials. It serves a
// single data root and processes one request at a time.
type Agent struct {
	layout      Layout
	executor    Executor
	interval    time.Duration
	responseTTL time.Duration
	now         func() time.Time
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithInterval sets the pause between queue passes. Non-positive values
// keep the default.
func WithInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithResponseTTL sets how long uncollected responses survive. Zero keeps
// them forever.
func WithResponseTTL(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.responseTTL = d
	}
}

// NewAgent prepares the request and response directories under dataRoot
// and returns an Agent confined to it.
func NewAgent(dataRoot string, executor Executor, opts ...AgentOption) (*Agent, error) {
	root, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root %q: %w", dataRoot, err)
	}

	layout := Layout{Root: root}
	for _, dir := range []string{layout.RequestsDir(), layout.ResponsesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %q: %w\nCheck that the data root is writable", dir, err)
		}
	}

	// Compare against the real path so symlinked roots still contain their children.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root %q: %w", dataRoot, err)
	}

	agent := &Agent{
		layout:      Layout{Root: root},
		executor:    executor,
		interval:    DefaultAgentInterval,
		responseTTL: DefaultResponseTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(agent)
	}

	return agent, nil
}

// Layout returns the queue layout the agent serves.
func (a *Agent) Layout() Layout {
	return a.layout
}

// Run serves the queue until ctx is cancelled. A filesystem watcher wakes
// the loop early when a request lands; the fixed interval remains the
// authoritative schedule, so a watcher failure only adds latency.
func (a *Agent) Run(ctx context.Context) error {
	log.Info().Str("requests", a.layout.RequestsDir()).Msg("relay agent watching")

	wake := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.watch(gctx, wake)
		return nil
	})

	g.Go(func() error {
		for {
			a.ProcessPending(gctx)
			a.PruneResponses()

			select {
			case <-gctx.Done():
				return nil
			case <-wake:
			case <-time.After(a.interval):
			}
		}
	})

	err := g.Wait()
	log.Info().Msg("relay agent stopped")
	return err
}

func (a *Agent) watch(ctx context.Context, wake chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("request watcher unavailable, polling only")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(a.layout.RequestsDir()); err != nil {
		log.Warn().Err(err).Msg("request watcher unavailable, polling only")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("request watcher error")
		}
	}
}

// ProcessPending handles every queued request in file name order and
// returns how many were consumed.
func (a *Agent) ProcessPending(ctx context.Context) int {
	paths, err := a.pending()
	if err != nil {
		log.Error().Err(err).Msg("failed to list requests")
		return 0
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		a.Handle(ctx, path)
	}

	return len(paths)
}

func (a *Agent) pending() ([]string, error) {
	entries, err := os.ReadDir(a.layout.RequestsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", a.layout.RequestsDir(), err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(a.layout.RequestsDir(), name))
	}
	sort.Strings(paths)

	return paths, nil
}

// Handle consumes the request file at path: it writes exactly one response,
// whatever the outcome, and then removes the request.
func (a *Agent) Handle(ctx context.Context, path string) {
	stem := strings.TrimSuffix(filepath.Base(path), ".json")
	defer a.consume(path)

	var req Request
	if err := readJSON(path, &req); err != nil {
		resp := NewResponse(stem)
		resp.RC = ExitInternal
		resp.Err = err.Error()
		log.Error().Err(err).Str("request", path).Msg("unreadable request")
		a.respond(resp)
		return
	}
	// The id names the response file, so it must stay a plain file name.
	if req.ID == "" || req.ID != filepath.Base(req.ID) || strings.HasPrefix(req.ID, ".") {
		req.ID = stem
	}

	logger := log.Info().Str("id", req.ID).Str("action", string(req.Action)).Str("workdir", req.Workdir)

	resp := NewResponse(req.ID)
	if !req.Action.Allowed() {
		resp.RC = ExitUnauthorized
		resp.Err = fmt.Sprintf("action not allowed: %s", req.Action)
	} else if workdir, err := a.contain(req.Workdir); err != nil {
		resp.RC = ExitPathEscape
		resp.Err = err.Error()
	} else {
		req.Workdir = workdir
		resp = a.executor.Execute(ctx, req)
	}

	logger.Int("rc", resp.RC).Bool("ok", resp.OK).Msg("handled request")
	a.respond(resp)
}

func (a *Agent) consume(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("request", path).Msg("failed to remove request")
	}
}

func (a *Agent) respond(resp Response) {
	if err := writeJSON(a.layout.ResponsePath(resp.ID), resp); err != nil {
		log.Error().Err(err).Str("id", resp.ID).Msg("failed to write response")
	}
}

// contain resolves workdir against the data root and rejects anything
// that lands outside it. Relative paths are taken relative to the root.
func (a *Agent) contain(workdir string) (string, error) {
	path := workdir
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.layout.Root, path)
	}

	resolved, err := resolveExisting(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve workdir %q: %w", workdir, err)
	}

	rel, err := filepath.Rel(a.layout.Root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, resolved)
	}

	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-attaches the missing remainder, so targets that do not exist yet
// (a clone destination) are still checked against their real parent.
func resolveExisting(path string) (string, error) {
	var missing []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

// PruneResponses removes responses nobody collected within the TTL, along
// with temporary files left behind by interrupted writes.
func (a *Agent) PruneResponses() {
	if a.responseTTL <= 0 {
		return
	}

	entries, err := os.ReadDir(a.layout.ResponsesDir())
	if err != nil {
		return
	}

	cutoff := a.now().Add(-a.responseTTL)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(a.layout.ResponsesDir(), entry.Name())
		if err := os.Remove(path); err == nil {
			log.Debug().Str("response", path).Msg("pruned orphaned response")
		}
	}
}
