package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ryanmoran/worldsync/internal/atomicfile"
)

// StateFile is the name of the session record inside the control directory.
const StateFile = "session.json"

// State is the persisted record of the active session. The zero value
// means no session is active.
type State struct {
	Branch    string    `json:"branch"`
	StartedAt time.Time `json:"started_at"`
	LastSave  time.Time `json:"last_save,omitzero"`
}

// Active reports whether s describes a running session.
func (s State) Active() bool {
	return s.Branch != ""
}

// Store keeps the session record on disk so a restarted process can finish
// the session it left behind instead of orphaning its branch.
type Store struct {
	path string
}

// NewStore returns a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored state. A missing file is an inactive session.
func (s *Store) Load() (State, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read session state %q: %w", s.path, err)
	}

	var state State
	if err := json.Unmarshal(content, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse session state %q: %w\nRemove the file to forget the session", s.path, err)
	}

	return state, nil
}

// Save replaces the stored state atomically.
func (s *Store) Save(state State) error {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %q: %w", dir, err)
	}

	if err := atomicfile.Write(s.path, content); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}

	return nil
}

// Clear removes the stored state.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session state %q: %w", s.path, err)
	}
	return nil
}
