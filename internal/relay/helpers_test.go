package relay_test

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

// gitCmd runs git in dir as the test identity and returns trimmed stdout.
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

// newRemote creates a bare repository whose main branch holds world.dat
// and a .gitignore already excluding server.properties. It returns the
// remote path.
func newRemote(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	remote := filepath.Join(root, "remote.git")
	seed := filepath.Join(root, "seed")

	gitCmd(t, root, "-c", "init.defaultBranch=main", "init", "--bare", remote)
	gitCmd(t, root, "-c", "init.defaultBranch=main", "init", seed)

	writeFile(t, seed, "world.dat", "v1\n")
	writeFile(t, seed, ".gitignore", "server.properties\n")
	gitCmd(t, seed, "add", "-A")
	gitCmd(t, seed, "commit", "-m", "seed world")
	gitCmd(t, seed, "remote", "add", "origin", remote)
	gitCmd(t, seed, "push", "origin", "main")

	return remote
}

// cloneRemote clones remote into dir and returns dir.
func cloneRemote(t *testing.T, remote, dir string) string {
	t.Helper()

	gitCmd(t, filepath.Dir(dir), "clone", remote, dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()

	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(content)
}

// recordingRunner is a CommandRunner that records every invocation and
// answers from results keyed by the joined argument list.
type recordingRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]git.Result
	onRun   func(args ...string)
}

func (r *recordingRunner) Run(ctx context.Context, dir string, args ...string) git.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	command := strings.Join(args, " ")
	r.calls = append(r.calls, command)
	if r.onRun != nil {
		r.onRun(args...)
	}
	if result, ok := r.results[command]; ok {
		return result
	}
	return git.Result{}
}

func (r *recordingRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

// runAgent serves agent in the background until the test finishes.
func runAgent(t *testing.T, agent *relay.Agent) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = agent.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}
