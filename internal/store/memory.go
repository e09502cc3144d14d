package store

import (
	"context"
	"sync"

	"github.com/Brownie44l1/fer-recorder/internal/model"
)

// MemoryRecorder keeps records in process memory
type MemoryRecorder struct {
	records []Record
	mu      sync.RWMutex
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, p *model.Prediction) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := newRecord(p)
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryRecorder) Records(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryRecorder) Close() error {
	return nil
}
