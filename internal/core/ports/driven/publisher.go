package driven

import (
	"context"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// IngestPublisher hands sync items to the downstream ingestion
// pipeline. Each item is published exactly once per session; the
// consumer is responsible for idempotent handling if at-least-once
// delivery duplicates an item across sessions.
type IngestPublisher interface {
	// Publish delivers one item for a connector. A failure is
	// classified as a storage error and retried by the orchestrator.
	Publish(ctx context.Context, connectorID string, item domain.SyncItem) error
}
