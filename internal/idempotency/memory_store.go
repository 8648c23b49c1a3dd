package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) TryBegin(ctx context.Context, rec *Record) (bool, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.Key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *rec
	m.records[rec.Key] = &cp
	return true, nil, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Retake(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || rec.Status != StatusFailed {
		return false, nil
	}
	rec.Status = StatusInProgress
	rec.Attempt++
	rec.Reason = ""
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key, resultRef string) error {
	return m.finish(key, StatusCompleted, resultRef, "")
}

func (m *MemoryStore) Fail(ctx context.Context, key, reason string) error {
	return m.finish(key, StatusFailed, "", reason)
}

func (m *MemoryStore) finish(key string, status Status, resultRef, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status != StatusInProgress {
		// Completed records never change again.
		if rec.Status == status {
			return nil
		}
		return ErrNotInProgress
	}
	rec.Status = status
	rec.ResultRef = resultRef
	rec.Reason = reason
	rec.UpdatedAt = time.Now()
	return nil
}
