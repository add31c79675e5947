package stats

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder keeps counters for the life of the process.
type MemoryRecorder struct {
	mu       sync.Mutex
	bySource map[string]Counters
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{bySource: make(map[string]Counters)}
}

func (m *MemoryRecorder) Record(_ context.Context, ev RunEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.bySource[ev.Source]
	c.add(ev)
	m.bySource[ev.Source] = c
	return nil
}

func (m *MemoryRecorder) Source(name string) Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySource[name]
}

func (m *MemoryRecorder) Snapshot() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Counters, len(m.bySource))
	for k, v := range m.bySource {
		out[k] = v
	}
	return out
}
