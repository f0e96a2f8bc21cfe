package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// ConnectorStore persists connector configuration and status.
type ConnectorStore interface {
	// Save stores or updates a connector.
	Save(ctx context.Context, connector domain.Connector) error

	// Get retrieves a connector by ID.
	Get(ctx context.Context, id string) (*domain.Connector, error)

	// List returns all configured connectors.
	List(ctx context.Context) ([]domain.Connector, error)

	// Delete removes a connector.
	Delete(ctx context.Context, id string) error

	// UpdateStatus transitions a connector's status with an optional
	// human-readable message.
	UpdateStatus(ctx context.Context, id string, status domain.ConnectorStatus, message string) error

	// RecordSyncResult updates the bookkeeping of a completed sync.
	RecordSyncResult(ctx context.Context, id string, docsAnalyzed int, lastSyncAt time.Time) error
}
