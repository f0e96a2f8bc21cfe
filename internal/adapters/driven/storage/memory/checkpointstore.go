package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
)

// Ensure CheckpointStore implements the interface.
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore is an in-memory implementation of driven.CheckpointStore.
type CheckpointStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		payloads: make(map[string][]byte),
	}
}

// Save stores or updates the checkpoint payload for a connector.
func (s *CheckpointStore) Save(_ context.Context, connectorID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.payloads[connectorID] = cp
	return nil
}

// Get retrieves the checkpoint payload for a connector.
func (s *CheckpointStore) Get(_ context.Context, connectorID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[connectorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp, nil
}

// Delete removes the checkpoint for a connector.
func (s *CheckpointStore) Delete(_ context.Context, connectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, connectorID)
	return nil
}
