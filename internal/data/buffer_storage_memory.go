package data

import (
	"context"
	"sync"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// InMemoryBufferStorage holds buffered jobs in process memory.
type InMemoryBufferStorage struct {
	mu      sync.Mutex
	buffers map[string][]*model.Job
}

var _ core.JobBufferStorageStrategy = (*InMemoryBufferStorage)(nil)

func NewInMemoryBufferStorage() *InMemoryBufferStorage {
	return &InMemoryBufferStorage{buffers: make(map[string][]*model.Job)}
}

func (m *InMemoryBufferStorage) Add(_ context.Context, bufferIDs []string, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range bufferIDs {
		m.buffers[id] = append(m.buffers[id], job.Clone())
	}
	return nil
}

func (m *InMemoryBufferStorage) BufferSize(_ context.Context, bufferIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int)
	for _, id := range m.targets(bufferIDs) {
		sizes[id] = len(m.buffers[id])
	}
	return sizes, nil
}

func (m *InMemoryBufferStorage) Flush(_ context.Context, bufferIDs []string) (map[string][]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]*model.Job)
	for _, id := range m.targets(bufferIDs) {
		out[id] = m.buffers[id]
		delete(m.buffers, id)
	}
	return out, nil
}

func (m *InMemoryBufferStorage) targets(bufferIDs []string) []string {
	if len(bufferIDs) > 0 {
		return bufferIDs
	}
	ids := make([]string, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	return ids
}
