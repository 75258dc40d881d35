package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal/git"
)

// TestRunnerErrorCases tests failure scenarios the relay has to report
// faithfully to its callers.
func TestRunnerErrorCases(t *testing.T) {
	runner := git.NewRunner(git.Identity{Name: "Some User", Email: "some@example.com"})

	t.Run("non-existent directory", func(t *testing.T) {
		result := runner.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), "status")
		require.Equal(t, git.ExitInternal, result.Code)
		require.NotEmpty(t, result.Stderr)
	})

	t.Run("non-git directory", func(t *testing.T) {
		dir := t.TempDir()

		result := runner.Run(context.Background(), dir, "--git-dir", filepath.Join(dir, ".git"), "status")
		require.False(t, result.OK())
		require.NotEqual(t, git.ExitInternal, result.Code)
		require.Contains(t, result.Stderr, "not a git repository")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := runner.Run(ctx, t.TempDir(), "status")
		require.Equal(t, git.ExitInternal, result.Code)
		require.Contains(t, result.Stderr, "context canceled")
	})

	t.Run("invalid branch name", func(t *testing.T) {
		dir := t.TempDir()
		cmd := exec.Command("git", "init")
		cmd.Dir = dir
		require.NoError(t, cmd.Run())

		result := runner.Run(context.Background(), dir, "checkout", "-b", "bad..name")
		require.False(t, result.OK())
		require.Contains(t, result.Stderr, "bad..name")
	})

	t.Run("unreachable remote", func(t *testing.T) {
		dir := t.TempDir()

		result := runner.Run(context.Background(), dir, "clone", filepath.Join(dir, "no-such-remote.git"), "repo")
		require.False(t, result.OK())
		require.NotEqual(t, git.ExitInternal, result.Code)
		require.NotEmpty(t, result.Stderr)
		require.NoDirExists(t, filepath.Join(dir, "repo"))
	})

	t.Run("commit with nothing staged", func(t *testing.T) {
		dir := t.TempDir()
		cmd := exec.Command("git", "init")
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
		require.NoError(t, os.WriteFile(filepath.Join(dir, "world.dat"), []byte("level\n"), 0644))

		result := runner.Run(context.Background(), dir, "commit", "-m", "empty")
		require.False(t, result.OK())
		require.Equal(t, 1, result.Code)
	})
}
