package notify

import (
	"context"
	"sync"

	"fintrack/backend/internal/domain"
)

// Memory fans out changes to subscribers inside one process. Callbacks run on
// the publishing goroutine and must not block.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(domain.Change)
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]func(domain.Change))}
}

func (m *Memory) Publish(_ context.Context, change domain.Change) error {
	m.mu.RLock()
	callbacks := make([]func(domain.Change), 0, len(m.subs[change.OwnerID]))
	for _, cb := range m.subs[change.OwnerID] {
		callbacks = append(callbacks, cb)
	}
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(change)
	}
	return nil
}

func (m *Memory) Subscribe(ownerID string, onChange func(domain.Change)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if m.subs[ownerID] == nil {
		m.subs[ownerID] = make(map[int]func(domain.Change))
	}
	m.subs[ownerID][id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[ownerID], id)
			if len(m.subs[ownerID]) == 0 {
				delete(m.subs, ownerID)
			}
		})
	}
}

// Subscribers reports how many callbacks are registered for ownerID.
func (m *Memory) Subscribers(ownerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[ownerID])
}

// Noop drops every change. It backs deployments that do not need live updates.
type Noop struct{}

func (Noop) Publish(_ context.Context, _ domain.Change) error { return nil }

func (Noop) Subscribe(_ string, _ func(domain.Change)) func() { return func() {} }
