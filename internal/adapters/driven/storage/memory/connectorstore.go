package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
)

// Ensure ConnectorStore implements the interface.
var _ driven.ConnectorStore = (*ConnectorStore)(nil)

// ConnectorStore is an in-memory implementation of driven.ConnectorStore.
type ConnectorStore struct {
	mu         sync.RWMutex
	connectors map[string]domain.Connector
}

// NewConnectorStore creates a new in-memory connector store.
func NewConnectorStore() *ConnectorStore {
	return &ConnectorStore{
		connectors: make(map[string]domain.Connector),
	}
}

// Save stores or updates a connector.
func (s *ConnectorStore) Save(_ context.Context, connector domain.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[connector.ID] = connector
	return nil
}

// Get retrieves a connector by ID.
func (s *ConnectorStore) Get(_ context.Context, id string) (*domain.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &connector, nil
}

// List returns all configured connectors.
func (s *ConnectorStore) List(_ context.Context) ([]domain.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		out = append(out, c)
	}
	return out, nil
}

// Delete removes a connector.
func (s *ConnectorStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connectors, id)
	return nil
}

// UpdateStatus transitions a connector's status.
func (s *ConnectorStore) UpdateStatus(_ context.Context, id string, status domain.ConnectorStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[id]
	if !ok {
		return domain.ErrNotFound
	}
	connector.Status = status
	connector.StatusMessage = message
	connector.UpdatedAt = time.Now().UTC()
	s.connectors[id] = connector
	return nil
}

// RecordSyncResult updates the bookkeeping of a completed sync.
func (s *ConnectorStore) RecordSyncResult(_ context.Context, id string, docsAnalyzed int, lastSyncAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[id]
	if !ok {
		return domain.ErrNotFound
	}
	connector.DocsAnalyzed = docsAnalyzed
	connector.LastSyncAt = &lastSyncAt
	connector.UpdatedAt = time.Now().UTC()
	s.connectors[id] = connector
	return nil
}
