package contextstore

import (
	"context"
	"sync"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

// Memory is an in-process domain.ContextStore. Used by tests and by
// `serve --ephemeral`, where history should not outlive the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[key][]domain.ContextEntry
}

type key struct {
	channel domain.Channel
	userID  string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[key][]domain.ContextEntry)}
}

func (m *Memory) Append(_ context.Context, ch domain.Channel, userID string, role domain.Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{channel: ch, userID: userID}
	m.entries[k] = append(m.entries[k], domain.ContextEntry{Role: role, Text: text})
	return nil
}

func (m *Memory) Read(_ context.Context, ch domain.Channel, userID string) ([]domain.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.entries[key{channel: ch, userID: userID}]
	out := make([]domain.ContextEntry, len(src))
	copy(out, src)
	return out, nil
}
