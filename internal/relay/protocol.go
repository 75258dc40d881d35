package relay

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// Action names one of the whitelisted operations.
type Action string

const (
	ActionClone               Action = "clone"
	ActionPull                Action = "pull"
	ActionCreateSessionBranch Action = "create_session_branch"
	ActionCommitAll           Action = "commit_all"
	ActionPush                Action = "push"
	ActionMergeToMain         Action = "merge_to_main_overwrite_current"
)

// Actions lists every action the agent will execute.
var Actions = []Action{
	ActionClone,
	ActionPull,
	ActionCreateSessionBranch,
	ActionCommitAll,
	ActionPush,
	ActionMergeToMain,
}

// Allowed reports whether a is on the whitelist.
func (a Action) Allowed() bool {
	for _, allowed := range Actions {
		if a == allowed {
			return true
		}
	}
	return false
}

// Reserved exit codes. Any other non-zero code is git's own.
const (
	ExitMissingArgument = 251
	ExitPathEscape      = 252
	ExitTimeout         = 252
	ExitInternal        = 253
	ExitUnauthorized    = 254
	ExitUnset           = 255
)

// Argument keys.
const (
	ArgURL           = "url"
	ArgBranch        = "branch"
	ArgPrefix        = "prefix"
	ArgMessage       = "message"
	ArgSessionBranch = "session_branch"
	ArgMainBranch    = "main_branch"
)

// Payload keys.
const (
	PayloadSessionBranch = "session_branch"
	PayloadCommitted     = "committed"
)

// NoChangesOutput is the out text of a commit_all that found a clean tree.
const NoChangesOutput = "no changes"

// Request is one operation submitted by a client.
type Request struct {
	ID      string         `json:"id"`
	Action  Action         `json:"action"`
	Workdir string         `json:"workdir"`
	Args    map[string]any `json:"args"`
}

// Arg returns the named string argument, or fallback when it is absent,
// empty or not a string.
func (r Request) Arg(name, fallback string) string {
	if v, ok := r.Args[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// CheckArgs returns the name of the first argument that is not a string.
// Every argument an action reads is a string.
func (r Request) CheckArgs() (string, bool) {
	for _, name := range slices.Sorted(maps.Keys(r.Args)) {
		if _, ok := r.Args[name].(string); !ok {
			return name, false
		}
	}
	return "", true
}

// Response is the outcome of one Request, keyed by the same ID.
type Response struct {
	ID      string            `json:"id"`
	OK      bool              `json:"ok"`
	RC      int               `json:"rc"`
	Out     string            `json:"out"`
	Err     string            `json:"err"`
	Payload map[string]string `json:"payload"`
}

// NewResponse returns the default failed response for id.
func NewResponse(id string) Response {
	return Response{
		ID:      id,
		RC:      ExitUnset,
		Payload: map[string]string{},
	}
}

// NoChanges reports a successful commit_all that had nothing to commit.
func (r Response) NoChanges() bool {
	return r.OK && r.Payload[PayloadCommitted] == "false"
}

var (
	ErrUnauthorizedAction = errors.New("action not allowed")
	ErrPathEscape         = errors.New("workdir outside data root")
	ErrMissingArgument    = errors.New("missing required argument")
	ErrRelayTimeout       = errors.New("timeout waiting for agent")
	ErrInternal           = errors.New("internal relay error")
	ErrCommandFailed      = errors.New("git command failed")
)

// OperationError describes a failed response. It unwraps to one of the
// package sentinels so callers can branch with errors.Is.
type OperationError struct {
	Action Action
	RC     int
	Out    string
	Stderr string
	kind   error
}

func (e *OperationError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Out)
	}
	if detail == "" {
		return fmt.Sprintf("%s failed (rc=%d): %s", e.Action, e.RC, e.kind)
	}
	return fmt.Sprintf("%s failed (rc=%d): %s: %s", e.Action, e.RC, e.kind, detail)
}

func (e *OperationError) Unwrap() error {
	return e.kind
}

// AsError converts a failed response for action into an *OperationError, or
// returns nil when the response succeeded. A 252 whose message is the
// client's timeout text maps to ErrRelayTimeout, otherwise ErrPathEscape.
func (r Response) AsError(action Action) error {
	if r.OK {
		return nil
	}

	var kind error
	switch r.RC {
	case ExitMissingArgument:
		kind = ErrMissingArgument
	case ExitPathEscape:
		kind = ErrPathEscape
		if strings.HasPrefix(r.Err, ErrRelayTimeout.Error()) {
			kind = ErrRelayTimeout
		}
	case ExitInternal:
		kind = ErrInternal
	case ExitUnauthorized:
		kind = ErrUnauthorizedAction
	default:
		kind = ErrCommandFailed
	}

	return &OperationError{
		Action: action,
		RC:     r.RC,
		Out:    r.Out,
		Stderr: r.Err,
		kind:   kind,
	}
}

// Layout locates the request and response queues under a data root.
type Layout struct {
	Root string
}

// ControlDir is the directory holding the relay queues.
func (l Layout) ControlDir() string {
	return filepath.Join(l.Root, ".ctl")
}

// RequestsDir holds pending requests. Its presence signals a running agent.
func (l Layout) RequestsDir() string {
	return filepath.Join(l.ControlDir(), "requests")
}

// ResponsesDir holds responses waiting to be collected.
func (l Layout) ResponsesDir() string {
	return filepath.Join(l.ControlDir(), "responses")
}

// RequestPath returns the request file for id.
func (l Layout) RequestPath(id string) string {
	return filepath.Join(l.RequestsDir(), id+".json")
}

// ResponsePath returns the response file for id.
func (l Layout) ResponsePath(id string) string {
	return filepath.Join(l.ResponsesDir(), id+".json")
}
