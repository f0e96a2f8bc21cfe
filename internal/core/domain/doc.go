// Package domain defines the core business entities for corpus-sync.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Checkpoint: Durable sync progress, one variant per provider family
//   - FileMetadata / FileChange: A provider's change-detection output
//   - DownloadedFile / DeletedFile: A sync session's emitted items
//   - ExternalAccess: The access descriptor attached to a synced file
//   - Connector: A configured binding to one external source
//   - SyncError: The typed failure taxonomy driving retry policy
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
