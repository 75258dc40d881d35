package internal

import (
	"sync"

	"github.com/ryanmoran/worldsync/internal/log"
)

// CleanupManager tracks resources and releases them in LIFO order.
type CleanupManager struct {
	mu    sync.Mutex
	funcs []cleanupFunc
}

type cleanupFunc struct {
	name string
	fn   func() error
}

func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers a cleanup function. The last function added runs first.
func (m *CleanupManager) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append([]cleanupFunc{{name, fn}}, m.funcs...)
}

// Len reports how many cleanup functions are pending.
func (m *CleanupManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.funcs)
}

// Execute runs every pending cleanup function, logging failures, and forgets
// them. Calling it again only runs functions added since.
func (m *CleanupManager) Execute() {
	m.mu.Lock()
	funcs := m.funcs
	m.funcs = nil
	m.mu.Unlock()

	for _, cleanup := range funcs {
		if err := cleanup.fn(); err != nil {
			log.Warn().Err(err).Str("resource", cleanup.name).Msg("cleanup failed")
			continue
		}
		log.Debug().Str("resource", cleanup.name).Msg("cleaned up")
	}
}
