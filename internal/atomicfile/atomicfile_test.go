package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal/atomicfile"
)

func TestWrite(t *testing.T) {
	t.Run("creates the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		require.NoError(t, atomicfile.Write(path, []byte(`{"branch":"sessions/one"}`)))

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, `{"branch":"sessions/one"}`, string(content))
	})

	t.Run("replaces existing content and leaves no temporary files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "req-1.json")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

		require.NoError(t, atomicfile.Write(path, []byte("new")))

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "new", string(content))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("fails when the directory is missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "req-1.json")

		err := atomicfile.Write(path, []byte("{}"))
		require.ErrorContains(t, err, "failed to create temporary file")
		require.NoFileExists(t, path)
	})
}
