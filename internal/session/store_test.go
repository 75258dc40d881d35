package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal/session"
)

func TestStore(t *testing.T) {
	setup := func(t *testing.T) *session.Store {
		t.Helper()
		return session.NewStore(filepath.Join(t.TempDir(), ".ctl", session.StateFile))
	}

	t.Run("Load returns an inactive state when nothing is stored", func(t *testing.T) {
		state, err := setup(t).Load()
		require.NoError(t, err)
		require.False(t, state.Active())
	})

	t.Run("Save and Load round trip", func(t *testing.T) {
		store := setup(t)
		started := time.Date(2026, 10, 19, 12, 30, 45, 0, time.UTC)

		require.NoError(t, store.Save(session.State{Branch: "sessions/20261019-123045", StartedAt: started}))

		state, err := store.Load()
		require.NoError(t, err)
		require.True(t, state.Active())
		require.Equal(t, "sessions/20261019-123045", state.Branch)
		require.True(t, started.Equal(state.StartedAt))
		require.True(t, state.LastSave.IsZero())

		entries, err := os.ReadDir(filepath.Dir(store.Path()))
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("Save replaces an earlier record in place", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, store.Save(session.State{Branch: "sessions/one"}))
		require.NoError(t, store.Save(session.State{Branch: "sessions/two"}))

		state, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, "sessions/two", state.Branch)

		entries, err := os.ReadDir(filepath.Dir(store.Path()))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, session.StateFile, entries[0].Name())
	})

	t.Run("Clear forgets the session and tolerates a missing file", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, store.Save(session.State{Branch: "sessions/one"}))

		require.NoError(t, store.Clear())
		require.NoFileExists(t, store.Path())
		require.NoError(t, store.Clear())
	})

	t.Run("Load reports a corrupt record", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
		require.NoError(t, os.WriteFile(store.Path(), []byte("{"), 0644))

		_, err := store.Load()
		require.ErrorContains(t, err, "failed to parse session state")
	})
}
