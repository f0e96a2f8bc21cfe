// Package ingest provides IngestPublisher adapters handing sync items
// to the downstream ingestion pipeline. The pipeline itself (queueing,
// embedding, storage) lives outside this repository.
package ingest

import (
	"context"
	"sync"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// Ensure implementations satisfy the interface.
var (
	_ driven.IngestPublisher = (*LogPublisher)(nil)
	_ driven.IngestPublisher = (*RecordingPublisher)(nil)
)

// LogPublisher logs each item instead of delivering it anywhere.
// Used when corpus-sync runs standalone, without a pipeline attached.
type LogPublisher struct{}

// NewLogPublisher creates a logging publisher.
func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

// Publish logs the item.
func (p *LogPublisher) Publish(_ context.Context, connectorID string, item domain.SyncItem) error {
	switch it := item.(type) {
	case *domain.DownloadedFile:
		logger.Info("connector %s: downloaded %s (%s, %d bytes)", connectorID, it.ID, it.Name, len(it.Content))
	case *domain.DeletedFile:
		logger.Info("connector %s: deleted %s", connectorID, it.ID)
	}
	return nil
}

// RecordingPublisher collects published items in memory. Useful for
// tests and dry runs.
type RecordingPublisher struct {
	mu    sync.Mutex
	items map[string][]domain.SyncItem
}

// NewRecordingPublisher creates a recording publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{items: make(map[string][]domain.SyncItem)}
}

// Publish records the item.
func (p *RecordingPublisher) Publish(_ context.Context, connectorID string, item domain.SyncItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[connectorID] = append(p.items[connectorID], item)
	return nil
}

// Items returns a copy of everything published for a connector.
func (p *RecordingPublisher) Items(connectorID string) []domain.SyncItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SyncItem, len(p.items[connectorID]))
	copy(out, p.items[connectorID])
	return out
}

// ItemIDs returns the IDs of everything published for a connector, in
// publish order.
func (p *RecordingPublisher) ItemIDs(connectorID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.items[connectorID]))
	for _, item := range p.items[connectorID] {
		ids = append(ids, item.ItemID())
	}
	return ids
}
