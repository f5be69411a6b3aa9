package calls

import (
	"context"
	"sync"
)

// Store persists call records. Aliases map provider call ids to our call uuid.
type Store interface {
	Save(ctx context.Context, record *CallRecord) error
	// Get returns ErrNotFound when the record does not exist.
	Get(ctx context.Context, callUUID string) (*CallRecord, error)
	SaveAlias(ctx context.Context, providerCallID string, callUUID string) error
	// ResolveAlias returns ErrNotFound for unknown provider ids.
	ResolveAlias(ctx context.Context, providerCallID string) (string, error)
	Close() error
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CallRecord
	aliases map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]CallRecord{},
		aliases: map[string]string{},
	}
}

func (m *MemoryStore) Save(ctx context.Context, record *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.CallUUID] = *record
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, callUUID string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[callUUID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (m *MemoryStore) SaveAlias(ctx context.Context, providerCallID string, callUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[providerCallID] = callUUID
	return nil
}

func (m *MemoryStore) ResolveAlias(ctx context.Context, providerCallID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	callUUID, ok := m.aliases[providerCallID]
	if !ok {
		return "", ErrNotFound
	}
	return callUUID, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
