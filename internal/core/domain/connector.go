package domain

import "time"

// ProviderConfig is the open key-value configuration passed unmodified
// from a connector's stored configuration into every provider call.
// Providers validate only the keys they need and ignore unknown keys.
type ProviderConfig map[string]string

// ConnectorStatus is the lifecycle state of a connector.
type ConnectorStatus string

const (
	// StatusActive means the last sync completed successfully.
	StatusActive ConnectorStatus = "active"

	// StatusSyncing means a sync session is currently running.
	StatusSyncing ConnectorStatus = "syncing"

	// StatusError means the last sync failed fatally. StatusMessage
	// carries the human-readable cause.
	StatusError ConnectorStatus = "error"
)

// Connector is a configured binding between the platform and one
// external document source or account.
type Connector struct {
	// ID is the unique identifier for the connector.
	ID string

	// Name is the human-readable name.
	Name string

	// ProviderType identifies the provider (e.g., "google-drive",
	// "sharepoint").
	ProviderType string

	// Config contains provider-specific configuration.
	Config ProviderConfig

	// Status is the connector's current lifecycle state.
	Status ConnectorStatus

	// StatusMessage is the last human-readable status detail, set on
	// fatal failures.
	StatusMessage string

	// DocsAnalyzed is the document count from the last completed sync.
	DocsAnalyzed int

	// LastSyncAt is when the last successful sync completed.
	LastSyncAt *time.Time

	// CreatedAt is when the connector was created.
	CreatedAt time.Time

	// UpdatedAt is when the connector was last updated.
	UpdatedAt time.Time
}
