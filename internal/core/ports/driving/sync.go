// Package driving defines the use-case interfaces through which outer
// adapters (CLI, schedulers) drive the core.
package driving

import "context"

// SyncOrchestrator coordinates document synchronisation from connectors.
type SyncOrchestrator interface {
	// Sync runs one sync session for a connector end-to-end.
	// Returns domain.ErrSyncInProgress if a session for the same
	// connector is already running.
	Sync(ctx context.Context, connectorID string) error

	// SyncAll runs sync sessions for all configured connectors,
	// bounded by the configured maximum concurrency.
	SyncAll(ctx context.Context) error

	// Status returns sync status for a connector.
	Status(ctx context.Context, connectorID string) (*SyncStatus, error)
}

// SyncStatus represents the current state of a sync session.
type SyncStatus struct {
	// ConnectorID identifies the connector.
	ConnectorID string

	// Running indicates if a session is currently in progress.
	Running bool

	// DocumentsProcessed is the count of items handed downstream.
	DocumentsProcessed int

	// ErrorCount is the number of items skipped after retry exhaustion.
	ErrorCount int
}
