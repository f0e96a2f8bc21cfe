// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Provider: Fetches documents and permissions from an external source
//   - ProviderFactory: Creates providers from connector configuration
//   - ConnectorStore: Connector configuration and status persistence
//   - CheckpointStore: Sync progress persistence
//   - IngestPublisher: Hand-off to the downstream ingestion pipeline
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or provider package
package driven
