package cursor

import "sync"

// Memory is an in-memory Cursor used by tests and one-shot replays.
type Memory struct {
	mu     sync.RWMutex
	blocks map[string]uint64
}

// NewMemory creates an empty in-memory cursor.
func NewMemory() *Memory {
	return &Memory{
		blocks: make(map[string]uint64),
	}
}

// Load implements Cursor.
func (m *Memory) Load(key string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.blocks[key]
	return block, ok, nil
}

// Save implements Cursor.
func (m *Memory) Save(key string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[key] = block
	return nil
}
