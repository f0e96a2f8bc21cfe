package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testConnector(id string) domain.Connector {
	return domain.Connector{
		ID:           id,
		Name:         "Engineering Drive",
		ProviderType: "google_drive",
		Config:       domain.ProviderConfig{"user_emails": "alice@example.com"},
	}
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same database must not re-run applied migrations.
	store, err = NewStore(dir)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestConnectorStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t).ConnectorStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testConnector("conn-1")))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "Engineering Drive", got.Name)
	assert.Equal(t, "google_drive", got.ProviderType)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "alice@example.com", got.Config["user_emails"])
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.LastSyncAt)
}

func TestConnectorStore_SaveUpserts(t *testing.T) {
	store := newTestStore(t).ConnectorStore()
	ctx := context.Background()

	connector := testConnector("conn-1")
	require.NoError(t, store.Save(ctx, connector))

	connector.Name = "Renamed"
	connector.Config["folder_ids"] = "f1"
	require.NoError(t, store.Save(ctx, connector))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "f1", got.Config["folder_ids"])

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConnectorStore_GetMissing(t *testing.T) {
	store := newTestStore(t).ConnectorStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConnectorStore_ListOrdered(t *testing.T) {
	store := newTestStore(t).ConnectorStore()
	ctx := context.Background()

	for _, id := range []string{"conn-1", "conn-2", "conn-3"} {
		require.NoError(t, store.Save(ctx, testConnector(id)))
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestConnectorStore_UpdateStatus(t *testing.T) {
	store := newTestStore(t).ConnectorStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testConnector("conn-1")))

	require.NoError(t, store.UpdateStatus(ctx, "conn-1", domain.StatusError, "token expired"))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, "token expired", got.StatusMessage)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "nope", domain.StatusActive, ""), domain.ErrNotFound)
}

func TestConnectorStore_RecordSyncResult(t *testing.T) {
	store := newTestStore(t).ConnectorStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, testConnector("conn-1")))
	finished := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.RecordSyncResult(ctx, "conn-1", 42, finished))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.DocsAnalyzed)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, finished.Equal(*got.LastSyncAt))
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.ConnectorStore().Save(ctx, testConnector("conn-1")))
	checkpoints := store.CheckpointStore()

	cp := domain.NewDriveCheckpoint()
	cp.MarkFileRetrieved("file-1")
	payload, err := domain.EncodeCheckpoint(cp)
	require.NoError(t, err)
	require.NoError(t, checkpoints.Save(ctx, "conn-1", payload))

	stored, err := checkpoints.Get(ctx, "conn-1")
	require.NoError(t, err)
	decoded, err := domain.DecodeCheckpoint(stored)
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
}

func TestCheckpointStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.ConnectorStore().Save(ctx, testConnector("conn-1")))
	checkpoints := store.CheckpointStore()

	require.NoError(t, checkpoints.Save(ctx, "conn-1", []byte(`{"v":1}`)))
	require.NoError(t, checkpoints.Save(ctx, "conn-1", []byte(`{"v":2}`)))

	payload, err := checkpoints.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(payload))
}

func TestCheckpointStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CheckpointStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckpointStore_DeletedWithConnector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.ConnectorStore().Save(ctx, testConnector("conn-1")))
	require.NoError(t, store.CheckpointStore().Save(ctx, "conn-1", []byte(`{}`)))

	require.NoError(t, store.ConnectorStore().Delete(ctx, "conn-1"))

	_, err := store.CheckpointStore().Get(ctx, "conn-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
