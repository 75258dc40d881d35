package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ryanmoran/worldsync/internal/git"
	"github.com/ryanmoran/worldsync/internal/log"
	"github.com/ryanmoran/worldsync/internal/relay"
)

// FinalSaveMessage is the commit message of the save made by Stop.
const FinalSaveMessage = "final save"

var (
	ErrNoSession     = errors.New("no active session")
	ErrSessionActive = errors.New("session already active")
)

// Operator performs relay operations. *relay.Client is the production
// implementation; it delegates to the agent or runs git in-process.
type Operator interface {
	Do(ctx context.Context, req relay.Request) relay.Response
}

// Repository describes the clone the sessions work in.
type Repository struct {
	// URL is the remote, without credentials.
	URL string
	// Branch is the shared branch sessions start from and merge into.
	Branch string
	// Prefix namespaces session branches.
	Prefix string
	// Path is the absolute working directory of the clone.
	Path string

	Username string
	Token    string
}

// RemoteURL returns URL with the configured credentials embedded.
func (r Repository) RemoteURL() string {
	return git.InjectCredentials(r.URL, r.Username, r.Token)
}

// Manager runs the branch-per-session workflow. All operations are
// serialized, so a Save racing a Stop either lands on the session branch
// before the merge or fails with ErrNoSession after it.
type Manager struct {
	mu     sync.Mutex
	ops    Operator
	runner relay.CommandRunner
	repo   Repository
	store  *Store
	state  State
	now    func() time.Time

	// attached is set while the clone is known to have the session branch
	// checked out.
	attached bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager for repo and restores any session recorded
// in store. runner is used for local-only remote maintenance that never
// contacts the remote.
func NewManager(ops Operator, runner relay.CommandRunner, repo Repository, store *Store, opts ...Option) (*Manager, error) {
	if repo.Branch == "" {
		repo.Branch = relay.DefaultMainBranch
	}
	if repo.Prefix == "" {
		repo.Prefix = relay.DefaultSessionPrefix
	}

	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		ops:    ops,
		runner: runner,
		repo:   repo,
		store:  store,
		state:  state,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if state.Active() {
		log.Info().Str("branch", state.Branch).Time("started_at", state.StartedAt).Msg("restored active session")
	}

	return m, nil
}

// Repository returns the repository the manager works in.
func (m *Manager) Repository() Repository {
	return m.repo
}

// Active returns the active session branch, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Branch, m.state.Active()
}

// Status returns a copy of the session state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Start makes sure the clone exists and is current, then opens a new
// session branch from the tip of the shared branch. A failed Start leaves
// no session active.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Active() {
		return "", fmt.Errorf("%w: %s\nStop it before starting another", ErrSessionActive, m.state.Branch)
	}

	if err := m.ensureClone(ctx); err != nil {
		return "", err
	}

	if _, err := m.do(ctx, relay.ActionPull, map[string]any{relay.ArgBranch: m.repo.Branch}); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", m.repo.Branch, err)
	}

	resp, err := m.do(ctx, relay.ActionCreateSessionBranch, map[string]any{relay.ArgPrefix: m.repo.Prefix})
	if err != nil {
		return "", fmt.Errorf("failed to create session branch: %w", err)
	}

	branch := resp.Payload[relay.PayloadSessionBranch]
	if branch == "" {
		return "", fmt.Errorf("failed to create session branch: %w: no branch name in response", relay.ErrInternal)
	}

	state := State{Branch: branch, StartedAt: m.now().UTC()}
	if err := m.store.Save(state); err != nil {
		return "", err
	}
	m.state = state
	m.attached = true

	log.Info().Str("branch", branch).Msg("session started")
	return branch, nil
}

// Checkout puts the clone back on the active session branch, as a restored
// session or a failed Stop may have left another branch checked out.
func (m *Manager) Checkout(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active() {
		return "", ErrNoSession
	}

	m.attached = false
	if err := m.checkout(ctx); err != nil {
		return "", err
	}

	return m.state.Branch, nil
}

// Save commits every change on the session branch and pushes it. It
// reports whether a commit was made.
func (m *Manager) Save(ctx context.Context, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active() {
		return false, ErrNoSession
	}

	return m.save(ctx, message)
}

// Autosave is Save with the default message, and a no-op without a session.
func (m *Manager) Autosave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active() {
		log.Debug().Msg("autosave skipped, no active session")
		return nil
	}

	_, err := m.save(ctx, relay.DefaultCommitMessage)
	return err
}

func (m *Manager) save(ctx context.Context, message string) (bool, error) {
	if err := m.checkout(ctx); err != nil {
		return false, err
	}

	resp, err := m.do(ctx, relay.ActionCommitAll, map[string]any{relay.ArgMessage: message})
	if err != nil {
		return false, fmt.Errorf("failed to commit %s: %w", m.state.Branch, err)
	}

	if _, err := m.do(ctx, relay.ActionPush, map[string]any{relay.ArgBranch: m.state.Branch}); err != nil {
		return false, fmt.Errorf("failed to push %s: %w", m.state.Branch, err)
	}

	committed := !resp.NoChanges()
	if committed {
		m.state.LastSave = m.now().UTC()
		if err := m.store.Save(m.state); err != nil {
			log.Warn().Err(err).Msg("failed to record save time")
		}
	}

	log.Info().Str("branch", m.state.Branch).Bool("committed", committed).Msg("session saved")
	return committed, nil
}

// Stop makes a final save, merges the session into the shared branch with
// the session winning every conflict, and pushes the result. The session
// stays active until every step has succeeded, so Stop can be retried.
func (m *Manager) Stop(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Active() {
		return "", ErrNoSession
	}
	branch := m.state.Branch

	if _, err := m.save(ctx, FinalSaveMessage); err != nil {
		return "", err
	}

	m.attached = false
	if _, err := m.do(ctx, relay.ActionPull, map[string]any{relay.ArgBranch: m.repo.Branch}); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", m.repo.Branch, err)
	}

	if _, err := m.do(ctx, relay.ActionMergeToMain, map[string]any{
		relay.ArgSessionBranch: branch,
		relay.ArgMainBranch:    m.repo.Branch,
	}); err != nil {
		return "", fmt.Errorf("failed to merge %s into %s: %w", branch, m.repo.Branch, err)
	}

	if _, err := m.do(ctx, relay.ActionPush, map[string]any{relay.ArgBranch: m.repo.Branch}); err != nil {
		return "", fmt.Errorf("failed to push %s: %w", m.repo.Branch, err)
	}

	if err := m.store.Clear(); err != nil {
		return "", err
	}
	m.state = State{}
	m.attached = false

	log.Info().Str("branch", branch).Str("into", m.repo.Branch).Msg("session stopped")
	return branch, nil
}

// checkout switches to the session branch unless the clone is already on
// it. The pull action fetches, checks out and fast-forwards the branch.
func (m *Manager) checkout(ctx context.Context) error {
	if m.attached {
		return nil
	}

	current := m.runner.Run(ctx, m.repo.Path, "branch", "--show-current")
	if !current.OK() || strings.TrimSpace(current.Stdout) != m.state.Branch {
		log.Info().Str("branch", m.state.Branch).Msg("checking out session branch")
		if _, err := m.do(ctx, relay.ActionPull, map[string]any{relay.ArgBranch: m.state.Branch}); err != nil {
			return fmt.Errorf("failed to check out %s: %w", m.state.Branch, err)
		}
	}

	m.attached = true
	return nil
}

// ensureClone clones the repository when the working directory holds none,
// and otherwise brings the origin URL in line with the configured
// credentials.
func (m *Manager) ensureClone(ctx context.Context) error {
	if git.IsRepository(m.repo.Path) {
		return m.syncCredentials(ctx)
	}

	if m.repo.URL == "" {
		return fmt.Errorf("failed to clone: %w: no repository URL configured\nSet repo.url or GIT_REPO", relay.ErrMissingArgument)
	}

	log.Info().Str("url", git.StripCredentials(m.repo.URL)).Str("path", m.repo.Path).Msg("cloning repository")
	if _, err := m.do(ctx, relay.ActionClone, map[string]any{relay.ArgURL: m.repo.RemoteURL()}); err != nil {
		return fmt.Errorf("failed to clone %s: %w", git.StripCredentials(m.repo.URL), err)
	}

	return nil
}

func (m *Manager) syncCredentials(ctx context.Context) error {
	desired := m.repo.RemoteURL()
	if desired == m.repo.URL {
		return nil
	}

	current := m.runner.Run(ctx, m.repo.Path, "remote", "get-url", "origin")
	if current.OK() && git.SameCredentials(strings.TrimSpace(current.Stdout), desired) {
		return nil
	}

	result := m.runner.Run(ctx, m.repo.Path, "remote", "set-url", "origin", desired)
	if !result.OK() {
		return fmt.Errorf("failed to update origin credentials: %w", relay.Response{RC: result.Code, Err: result.Stderr}.AsError("remote set-url"))
	}

	log.Info().Str("url", git.StripCredentials(desired)).Msg("updated origin credentials")
	return nil
}

func (m *Manager) do(ctx context.Context, action relay.Action, args map[string]any) (relay.Response, error) {
	resp := m.ops.Do(ctx, relay.Request{
		Action:  action,
		Workdir: m.repo.Path,
		Args:    args,
	})
	return resp, resp.AsError(action)
}
