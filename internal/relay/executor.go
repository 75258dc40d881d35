package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ryanmoran/worldsync/internal/git"
)

const (
	// DefaultMainBranch is used when a request names no branch.
	DefaultMainBranch = "main"

	// DefaultSessionPrefix is used when create_session_branch names no prefix.
	DefaultSessionPrefix = "sessions"

	// DefaultCommitMessage is used when commit_all names no message.
	DefaultCommitMessage = "autosave"

	// SessionTimeLayout formats session branch timestamps. It sorts
	// lexicographically in time order at second precision.
	SessionTimeLayout = "20060102-150405"
)

// CommandRunner runs one git command and reports its outcome verbatim.
// git.Runner is the production implementation.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) git.Result
}

// Executor performs whitelisted actions. It is shared by the agent, which
// adds sandboxing in front of it, and by clients running without an agent.
type Executor struct {
	runner  CommandRunner
	ignored []string
	now     func() time.Time
}

// NewExecutor returns an Executor running git through runner. Every
// commit_all first makes sure each of ignored is listed in .gitignore.
func NewExecutor(runner CommandRunner, ignored ...string) Executor {
	return Executor{
		runner:  runner,
		ignored: ignored,
		now:     time.Now,
	}
}

// WithClock returns a copy of e that stamps session branches using now.
func (e Executor) WithClock(now func() time.Time) Executor {
	e.now = now
	return e
}

// SessionBranchName returns "<prefix>/<UTC timestamp>" for t.
func SessionBranchName(prefix string, t time.Time) string {
	return prefix + "/" + t.UTC().Format(SessionTimeLayout)
}

// Execute runs req and describes the outcome in a Response. It never
// returns an error; failures are reported through OK, RC and Err.
func (e Executor) Execute(ctx context.Context, req Request) Response {
	resp := NewResponse(req.ID)

	if !req.Action.Allowed() {
		resp.RC = ExitUnauthorized
		resp.Err = fmt.Sprintf("action not allowed: %s", req.Action)
		return resp
	}

	if name, ok := req.CheckArgs(); !ok {
		resp.RC = ExitMissingArgument
		resp.Err = fmt.Sprintf("argument %s must be a string", name)
		return resp
	}

	workdir := req.Workdir
	if workdir == "" {
		workdir = "."
	}

	switch req.Action {
	case ActionClone:
		return e.clone(ctx, resp, workdir, req)
	case ActionPull:
		return e.pull(ctx, resp, workdir, req)
	case ActionCreateSessionBranch:
		return e.createSessionBranch(ctx, resp, workdir, req)
	case ActionCommitAll:
		return e.commitAll(ctx, resp, workdir, req)
	case ActionPush:
		return e.push(ctx, resp, workdir, req)
	case ActionMergeToMain:
		return e.mergeToMain(ctx, resp, workdir, req)
	}

	return resp
}

func (e Executor) clone(ctx context.Context, resp Response, workdir string, req Request) Response {
	url := req.Arg(ArgURL, "")
	if url == "" {
		return missing(resp, "url for clone")
	}

	if err := os.MkdirAll(filepath.Dir(workdir), 0755); err != nil {
		resp.RC = ExitInternal
		resp.Err = fmt.Sprintf("failed to create parent of %q: %v", workdir, err)
		return resp
	}

	return finish(resp, e.runner.Run(ctx, "", "clone", url, workdir))
}

func (e Executor) pull(ctx context.Context, resp Response, workdir string, req Request) Response {
	branch := req.Arg(ArgBranch, DefaultMainBranch)

	result := e.sequence(ctx, workdir,
		[]string{"fetch", "origin"},
		[]string{"checkout", branch},
		[]string{"pull", "origin", branch},
	)
	return finish(resp, result)
}

func (e Executor) createSessionBranch(ctx context.Context, resp Response, workdir string, req Request) Response {
	branch := SessionBranchName(req.Arg(ArgPrefix, DefaultSessionPrefix), e.now())

	resp = finish(resp, e.runner.Run(ctx, workdir, "checkout", "-b", branch))
	resp.Payload[PayloadSessionBranch] = branch
	return resp
}

func (e Executor) commitAll(ctx context.Context, resp Response, workdir string, req Request) Response {
	message := req.Arg(ArgMessage, DefaultCommitMessage)

	for _, entry := range e.ignored {
		// Best effort: a read-only .gitignore must not block the commit.
		_ = git.EnsureIgnored(workdir, entry)
	}

	if result := e.runner.Run(ctx, workdir, "add", "-A"); !result.OK() {
		return finish(resp, result)
	}

	status := e.runner.Run(ctx, workdir, "status", "--porcelain")
	if !status.OK() {
		return finish(resp, status)
	}

	if strings.TrimSpace(status.Stdout) == "" {
		resp.OK = true
		resp.RC = 0
		resp.Out = NoChangesOutput
		resp.Payload[PayloadCommitted] = "false"
		return resp
	}

	resp = finish(resp, e.runner.Run(ctx, workdir, "commit", "-m", message))
	if resp.OK {
		resp.Payload[PayloadCommitted] = "true"
	}
	return resp
}

func (e Executor) push(ctx context.Context, resp Response, workdir string, req Request) Response {
	branch := req.Arg(ArgBranch, "")
	if branch == "" {
		return missing(resp, "branch for push")
	}

	return finish(resp, e.runner.Run(ctx, workdir, "push", "origin", branch))
}

// mergeToMain folds the session into main, preferring the session's side
// of every conflict. When the merge cannot be applied at all, main is
// reset to the session's commit: the session always wins.
func (e Executor) mergeToMain(ctx context.Context, resp Response, workdir string, req Request) Response {
	session := req.Arg(ArgSessionBranch, "")
	if session == "" {
		return missing(resp, "session_branch")
	}
	mainBranch := req.Arg(ArgMainBranch, DefaultMainBranch)

	result := e.runner.Run(ctx, workdir, "checkout", mainBranch)
	if !result.OK() {
		return finish(resp, result)
	}

	result = e.runner.Run(ctx, workdir, "merge", "-X", "theirs", session)
	if !result.OK() {
		result = e.runner.Run(ctx, workdir, "reset", "--hard", session)
	}

	return finish(resp, result)
}

// sequence runs each command in order and stops at the first failure,
// returning the result of the last command run.
func (e Executor) sequence(ctx context.Context, workdir string, commands ...[]string) git.Result {
	var result git.Result
	for _, args := range commands {
		result = e.runner.Run(ctx, workdir, args...)
		if !result.OK() {
			return result
		}
	}
	return result
}

func finish(resp Response, result git.Result) Response {
	resp.RC = result.Code
	resp.Out = result.Stdout
	resp.Err = result.Stderr
	resp.OK = result.OK()
	return resp
}

func missing(resp Response, what string) Response {
	resp.RC = ExitMissingArgument
	resp.Err = "missing " + what
	return resp
}
