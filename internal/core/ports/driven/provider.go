package driven

import (
	"context"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// Provider fetches documents from an external document repository.
// Each provider type (google-drive, sharepoint) implements this
// interface.
//
// All streaming methods return a pair of channels in the same shape:
// the data channel closes when the sequence is exhausted, and the error
// channel carries typed *domain.SyncError values. Item-level failures
// are sent without closing the data channel; fatal failures are sent
// and then both channels close.
type Provider interface {
	// Name returns the constant provider identity string.
	Name() string

	// Authenticate establishes credentials from the connector config.
	// Returns an authentication failure on bad or expired credentials.
	Authenticate(ctx context.Context, cfg domain.ProviderConfig) error

	// CheckConnection is a cheap liveness probe with no side effects.
	CheckConnection(ctx context.Context) bool

	// GetChanges streams change events. Once the checkpoint holds a
	// delta/changes token this uses the provider's changes API, never a
	// full listing. The stream is finite and restartable from the
	// token stored in the checkpoint.
	GetChanges(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.FileChange, <-chan error)

	// DownloadFile fetches one file's content, enforcing the provider's
	// export and size rules before returning.
	DownloadFile(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (*domain.DownloadedFile, error)

	// GetFilePermissions fetches the file's current ACL. Called on
	// every sync of a file, not only on creation, since ACLs drift
	// independently of content.
	GetFilePermissions(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (domain.ExternalAccess, error)

	// Sync is the composed entry point: detect changes, filter
	// already-seen IDs via the checkpoint dedup set, download, attach
	// permissions, and mutate the checkpoint in place as items are
	// emitted. A consumer that stops pulling leaves the checkpoint
	// reflecting only fully-emitted items, never partially-downloaded
	// ones.
	Sync(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.SyncItem, <-chan error)

	// CreateCheckpoint returns a fresh checkpoint of this provider's
	// variant.
	CreateCheckpoint() domain.Checkpoint

	// Close releases provider resources.
	Close() error
}
