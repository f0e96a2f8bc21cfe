package driven

import "context"

// CheckpointStore persists checkpoint payloads keyed by connector ID.
// The payload is the connector's opaque state blob produced by
// domain.EncodeCheckpoint.
type CheckpointStore interface {
	// Save stores or updates the checkpoint payload for a connector.
	Save(ctx context.Context, connectorID string, payload []byte) error

	// Get retrieves the checkpoint payload for a connector.
	// Returns domain.ErrNotFound when the connector has never synced.
	Get(ctx context.Context, connectorID string) ([]byte, error)

	// Delete removes the checkpoint for a connector.
	Delete(ctx context.Context, connectorID string) error
}
