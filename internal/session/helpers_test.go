package session_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal/git"
	"github.com/ryanmoran/worldsync/internal/relay"
)

var testIdentity = git.Identity{Name: "Some User", Email: "some@example.com"}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Some User",
		"GIT_AUTHOR_EMAIL=some@example.com",
		"GIT_COMMITTER_NAME=Some User",
		"GIT_COMMITTER_EMAIL=some@example.com",
	)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), output)

	return strings.TrimSpace(string(output))
}

// newRemote creates a bare repository whose main branch holds world.dat.
func newRemote(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	remote := filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")

	gitCmd(t, root, "-c", "init.defaultBranch=main", "init", "--bare", remote)
	gitCmd(t, root, "-c", "init.defaultBranch=main", "init", seed)

	require.NoError(t, os.WriteFile(filepath.Join(seed, "world.dat"), []byte("v1\n"), 0644))
	gitCmd(t, seed, "add", "-A")
	gitCmd(t, seed, "commit", "-m", "seed world")
	gitCmd(t, seed, "remote", "add", "origin", remote)
	gitCmd(t, seed, "push", "origin", "main")

	return remote
}

// fakeOperator answers relay requests from a table keyed by action and
// records every request it sees.
type fakeOperator struct {
	mu        sync.Mutex
	requests  []relay.Request
	responses map[relay.Action]relay.Response
}

func (f *fakeOperator) Do(ctx context.Context, req relay.Request) relay.Response {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if resp, ok := f.responses[req.Action]; ok {
		return resp
	}

	resp := relay.NewResponse(req.ID)
	resp.OK = true
	resp.RC = 0
	if req.Action == relay.ActionCreateSessionBranch {
		resp.Payload[relay.PayloadSessionBranch] = req.Arg(relay.ArgPrefix, "") + "/20261019-123045"
	}
	return resp
}

func (f *fakeOperator) Actions() []relay.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	var actions []relay.Action
	for _, req := range f.requests {
		actions = append(actions, req.Action)
	}
	return actions
}

func (f *fakeOperator) Last() relay.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.requests[len(f.requests)-1]
}

func failed(rc int, stderr string) relay.Response {
	resp := relay.NewResponse("")
	resp.RC = rc
	resp.Err = stderr
	return resp
}

type fakeRunner struct {
	calls   []string
	results map[string]git.Result
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args ...string) git.Result {
	command := strings.Join(args, " ")
	f.calls = append(f.calls, command)
	return f.results[command]
}
