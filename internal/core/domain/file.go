package domain

import "time"

// FileMetadata describes a file as reported by a provider's listing or
// changes API, before any download happens.
type FileMetadata struct {
	// ID is the provider-assigned source identifier.
	ID string

	// Name is the file name.
	Name string

	// MIMEType is the content type (e.g., "application/pdf").
	MIMEType string

	// Size is the content size in bytes, when the provider reports it.
	Size int64

	// ContentHash is the provider's content checksum, if available.
	ContentHash string

	// ModifiedAt is the last modification time, if available.
	ModifiedAt *time.Time

	// WebURL is the original browser-facing location, if available.
	WebURL string

	// ParentID links to a parent container for hierarchical sources.
	ParentID string

	// Extra contains provider-specific key-value pairs.
	Extra map[string]any
}

// ChangeAction is the kind of change a provider reports for a file.
type ChangeAction string

const (
	// ActionCreate indicates a new file.
	ActionCreate ChangeAction = "create"

	// ActionUpdate indicates a modified file.
	ActionUpdate ChangeAction = "update"

	// ActionDelete indicates a removed file.
	ActionDelete ChangeAction = "delete"
)

// FileChange is a change event from a provider's delta/changes API.
// Metadata is nil for deletes.
type FileChange struct {
	ID       string
	Action   ChangeAction
	Metadata *FileMetadata
}

// SyncItem is an element of a provider's composed sync output: either a
// DownloadedFile or a DeletedFile. The set of implementations is closed.
type SyncItem interface {
	// ItemID returns the source identifier the item refers to.
	ItemID() string
}

// DownloadedFile is a fully fetched file with content and access
// metadata, ready for the downstream ingestion pipeline.
type DownloadedFile struct {
	// ID is the provider-assigned source identifier.
	ID string

	// Name is the file name.
	Name string

	// Content is the raw bytes (exported text for provider-native
	// document formats).
	Content []byte

	// MIMEType is the content type after any export conversion.
	MIMEType string

	// ContentHash is the provider's content checksum, if available.
	ContentHash string

	// ModifiedAt is the last modification time.
	ModifiedAt time.Time

	// Access describes who may see this file.
	Access ExternalAccess

	// ParentID links to a parent container, if any.
	ParentID string

	// WebURL is the original browser-facing location, if available.
	WebURL string
}

// ItemID returns the source identifier.
func (f *DownloadedFile) ItemID() string { return f.ID }

// DeletedFile signals that a previously synced file was removed at the
// source.
type DeletedFile struct {
	// ID is the provider-assigned source identifier.
	ID string
}

// ItemID returns the source identifier.
func (f *DeletedFile) ItemID() string { return f.ID }
