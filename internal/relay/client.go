package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryanmoran/worldsync/internal/log"
)

const (
	// DefaultClientTimeout bounds the wait for one response. Clones of large
	// worlds dominate it.
	DefaultClientTimeout = 120 * time.Second

	// DefaultClientInterval is how often the response directory is checked.
	DefaultClientInterval = 500 * time.Millisecond
)

// Mode selects how a Client reaches git.
type Mode string

const (
	// ModeAuto delegates when the requests directory exists and runs
	// locally otherwise. It cannot tell "agent not started" from "agent
	// not installed"; both fall back to local execution.
	ModeAuto Mode = "auto"

	// ModeAgent always delegates.
	ModeAgent Mode = "agent"

	// ModeDirect always runs git locally with whatever credentials the
	// process has. No trust boundary is enforced.
	ModeDirect Mode = "direct"
)

// ParseMode validates a mode name. The empty string means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeAgent:
		return ModeAgent, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("invalid relay mode %q (want auto, agent or direct)", s)
	}
}

// Client submits operations to the agent, or executes them in-process
// when no agent serves the data root.
type Client struct {
	layout   Layout
	mode     Mode
	timeout  time.Duration
	interval time.Duration
	direct   Executor
	newID    func() string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMode overrides agent detection.
func WithMode(mode Mode) ClientOption {
	return func(c *Client) {
		c.mode = mode
	}
}

// WithTimeout bounds how long Do waits for the agent.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithPollInterval sets how often Do looks for a response. Non-positive
// values keep the default.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewClient returns a Client for the queues under dataRoot. direct is
// used whenever no agent is in play.
func NewClient(dataRoot string, direct Executor, opts ...ClientOption) *Client {
	root, err := filepath.Abs(dataRoot)
	if err != nil {
		root = dataRoot
	}

	c := &Client{
		layout:   Layout{Root: root},
		mode:     ModeAuto,
		timeout:  DefaultClientTimeout,
		interval: DefaultClientInterval,
		direct:   direct,
		newID:    newRequestID,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// newRequestID returns a UUIDv7, whose text form sorts by creation time
// so the agent's name-ordered scan follows submission order.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Delegating reports whether Do will hand requests to the agent.
func (c *Client) Delegating() bool {
	switch c.mode {
	case ModeAgent:
		return true
	case ModeDirect:
		return false
	}

	info, err := os.Stat(c.layout.RequestsDir())
	return err == nil && info.IsDir()
}

// Do performs req and returns its response. It never blocks longer than
// the configured timeout waiting for the agent.
func (c *Client) Do(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = c.newID()
	}

	if !c.Delegating() {
		return c.direct.Execute(ctx, req)
	}

	return c.delegate(ctx, req)
}

func (c *Client) delegate(ctx context.Context, req Request) Response {
	req.Workdir = c.relative(req.Workdir)

	if err := writeJSON(c.layout.RequestPath(req.ID), req); err != nil {
		resp := NewResponse(req.ID)
		resp.RC = ExitInternal
		resp.Err = err.Error()
		return resp
	}
	log.Debug().Str("id", req.ID).Str("action", string(req.Action)).Msg("submitted request")

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	path := c.layout.ResponsePath(req.ID)
	for {
		if resp, ok := c.collect(path); ok {
			return resp
		}

		select {
		case <-ticker.C:
		case <-timer.C:
			// The agent may still answer later; that response is orphaned
			// and pruned by the agent.
			return timedOut(req.ID, fmt.Sprintf("after %s", c.timeout))
		case <-ctx.Done():
			return timedOut(req.ID, ctx.Err().Error())
		}
	}
}

// collect reads and deletes the response at path if it has arrived.
func (c *Client) collect(path string) (Response, bool) {
	if _, err := os.Stat(path); err != nil {
		return Response{}, false
	}

	var resp Response
	err := readJSON(path, &resp)
	os.Remove(path)
	if err != nil {
		resp = NewResponse(strings.TrimSuffix(filepath.Base(path), ".json"))
		resp.RC = ExitInternal
		resp.Err = err.Error()
	}
	if resp.Payload == nil {
		resp.Payload = map[string]string{}
	}

	return resp, true
}

// relative expresses workdir relative to the data root when it lies
// inside it. The agent may see the root mounted at a different path.
func (c *Client) relative(workdir string) string {
	if workdir == "" || !filepath.IsAbs(workdir) {
		return workdir
	}

	rel, err := filepath.Rel(c.layout.Root, workdir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return workdir
	}
	return rel
}

func timedOut(id, detail string) Response {
	resp := NewResponse(id)
	resp.RC = ExitTimeout
	resp.Err = fmt.Sprintf("%s: %s", ErrRelayTimeout, detail)
	return resp
}
