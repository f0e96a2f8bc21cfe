// Package sqlite provides durable connector and checkpoint storage
// backed by SQLite with embedded schema migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/corpus-sync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
)

// Store is the SQLite-backed storage providing the connector and
// checkpoint store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.corpus-sync/data/corpus-sync.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".corpus-sync", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "corpus-sync.db")

	// WAL mode for better concurrency between sync sessions.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ConnectorStore returns a ConnectorStore backed by this store.
func (s *Store) ConnectorStore() driven.ConnectorStore {
	return &connectorStore{store: s}
}

// CheckpointStore returns a CheckpointStore backed by this store.
func (s *Store) CheckpointStore() driven.CheckpointStore {
	return &checkpointStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Connector Store ====================

// connectorStore implements driven.ConnectorStore.
type connectorStore struct {
	store *Store
}

var _ driven.ConnectorStore = (*connectorStore)(nil)

// Save stores or updates a connector.
func (s *connectorStore) Save(ctx context.Context, connector domain.Connector) error {
	configJSON, err := json.Marshal(connector.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if connector.CreatedAt.IsZero() {
		connector.CreatedAt = now
	}
	connector.UpdatedAt = now
	if connector.Status == "" {
		connector.Status = domain.StatusActive
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO connectors (id, name, provider_type, config, status, status_message,
			docs_analyzed, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			provider_type = excluded.provider_type,
			config = excluded.config,
			status = excluded.status,
			status_message = excluded.status_message,
			docs_analyzed = excluded.docs_analyzed,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`, connector.ID, connector.Name, connector.ProviderType, string(configJSON),
		string(connector.Status), connector.StatusMessage, connector.DocsAnalyzed,
		nullTime(connector.LastSyncAt), connector.CreatedAt, connector.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving connector: %w", err)
	}
	return nil
}

// Get retrieves a connector by ID.
func (s *connectorStore) Get(ctx context.Context, id string) (*domain.Connector, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, name, provider_type, config, status, status_message,
			docs_analyzed, last_sync_at, created_at, updated_at
		FROM connectors WHERE id = ?
	`, id)
	return scanConnector(row)
}

// List returns all configured connectors ordered by creation time.
func (s *connectorStore) List(ctx context.Context) ([]domain.Connector, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, provider_type, config, status, status_message,
			docs_analyzed, last_sync_at, created_at, updated_at
		FROM connectors ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing connectors: %w", err)
	}
	defer rows.Close()

	var connectors []domain.Connector
	for rows.Next() {
		connector, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, *connector)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connectors: %w", err)
	}
	return connectors, nil
}

// Delete removes a connector and, via the foreign key, its checkpoint.
func (s *connectorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM connectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting connector: %w", err)
	}
	return nil
}

// UpdateStatus transitions a connector's status.
func (s *connectorStore) UpdateStatus(ctx context.Context, id string, status domain.ConnectorStatus, message string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE connectors SET status = ?, status_message = ?, updated_at = ? WHERE id = ?
	`, string(status), message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireAffected(res)
}

// RecordSyncResult updates the bookkeeping of a completed sync.
func (s *connectorStore) RecordSyncResult(ctx context.Context, id string, docsAnalyzed int, lastSyncAt time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE connectors SET docs_analyzed = ?, last_sync_at = ?, updated_at = ? WHERE id = ?
	`, docsAnalyzed, lastSyncAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("recording sync result: %w", err)
	}
	return requireAffected(res)
}

// scanner abstracts sql.Row and sql.Rows for scanConnector.
type scanner interface {
	Scan(dest ...any) error
}

func scanConnector(row scanner) (*domain.Connector, error) {
	var (
		connector  domain.Connector
		configJSON string
		status     string
		lastSyncAt sql.NullTime
	)
	err := row.Scan(&connector.ID, &connector.Name, &connector.ProviderType, &configJSON,
		&status, &connector.StatusMessage, &connector.DocsAnalyzed,
		&lastSyncAt, &connector.CreatedAt, &connector.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning connector: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &connector.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	connector.Status = domain.ConnectorStatus(status)
	if lastSyncAt.Valid {
		at := lastSyncAt.Time
		connector.LastSyncAt = &at
	}
	return &connector, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ==================== Checkpoint Store ====================

// checkpointStore implements driven.CheckpointStore.
type checkpointStore struct {
	store *Store
}

var _ driven.CheckpointStore = (*checkpointStore)(nil)

// Save stores or updates the checkpoint payload for a connector.
func (s *checkpointStore) Save(ctx context.Context, connectorID string, payload []byte) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO checkpoints (connector_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(connector_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, connectorID, payload, time.Now().UTC())
	if err != nil {
		return domain.NewStorageError("saving checkpoint", err)
	}
	return nil
}

// Get retrieves the checkpoint payload for a connector.
func (s *checkpointStore) Get(ctx context.Context, connectorID string) ([]byte, error) {
	var payload []byte
	row := s.store.db.QueryRowContext(ctx,
		"SELECT payload FROM checkpoints WHERE connector_id = ?", connectorID)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewStorageError("loading checkpoint", err)
	}
	return payload, nil
}

// Delete removes the checkpoint for a connector.
func (s *checkpointStore) Delete(ctx context.Context, connectorID string) error {
	if _, err := s.store.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE connector_id = ?", connectorID); err != nil {
		return domain.NewStorageError("deleting checkpoint", err)
	}
	return nil
}
