package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/corpus-sync/internal/adapters/driven/ingest"
	"github.com/custodia-labs/corpus-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
)

// stubProvider is a configurable in-memory Provider for orchestrator tests.
type stubProvider struct {
	name      string
	authErr   error
	createCp  func() domain.Checkpoint
	syncFn    func(ctx context.Context, cfg domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, errs chan<- error)
	closed    bool
	authCalls int
}

func (p *stubProvider) Name() string {
	if p.name == "" {
		return "stub"
	}
	return p.name
}

func (p *stubProvider) Authenticate(_ context.Context, _ domain.ProviderConfig) error {
	p.authCalls++
	return p.authErr
}

func (p *stubProvider) CheckConnection(_ context.Context) bool { return p.authErr == nil }

func (p *stubProvider) GetChanges(_ context.Context, _ domain.ProviderConfig, _ domain.Checkpoint) (<-chan domain.FileChange, <-chan error) {
	changes := make(chan domain.FileChange)
	errs := make(chan error)
	close(changes)
	close(errs)
	return changes, errs
}

func (p *stubProvider) DownloadFile(_ context.Context, file domain.FileMetadata, _ domain.ProviderConfig) (*domain.DownloadedFile, error) {
	return &domain.DownloadedFile{ID: file.ID, Name: file.Name}, nil
}

func (p *stubProvider) GetFilePermissions(_ context.Context, _ domain.FileMetadata, _ domain.ProviderConfig) (domain.ExternalAccess, error) {
	return domain.EmptyAccess(), nil
}

func (p *stubProvider) Sync(ctx context.Context, cfg domain.ProviderConfig, cp domain.Checkpoint) (<-chan domain.SyncItem, <-chan error) {
	items := make(chan domain.SyncItem)
	errs := make(chan error, 1)
	go func() {
		defer close(items)
		defer close(errs)
		if p.syncFn != nil {
			p.syncFn(ctx, cfg, cp, items, errs)
		}
	}()
	return items, errs
}

func (p *stubProvider) CreateCheckpoint() domain.Checkpoint {
	if p.createCp != nil {
		return p.createCp()
	}
	return domain.NewDriveCheckpoint()
}

func (p *stubProvider) Close() error {
	p.closed = true
	return nil
}

// emitFile sends one downloaded file unless the ID is already in the
// dedup set. Dedup is committed only after the handoff, under the
// checkpoint's write lock, matching the real providers' discipline.
func emitFile(ctx context.Context, cp *domain.DriveCheckpoint, id string, items chan<- domain.SyncItem) bool {
	if cp.RetrievedIDs.Has(id) {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case items <- &domain.DownloadedFile{ID: id, Name: id + ".txt"}:
	}
	cp.Lock()
	cp.MarkFileRetrieved(id)
	cp.Unlock()
	return true
}

// testHarness wires an orchestrator around in-memory stores.
type testHarness struct {
	connectors  *memory.ConnectorStore
	checkpoints *memory.CheckpointStore
	publisher   *ingest.RecordingPublisher
	factory     *ProviderFactory
	orch        *SyncOrchestrator
}

func newHarness(t *testing.T, provider driven.Provider, opts ...SyncOption) *testHarness {
	t.Helper()
	h := &testHarness{
		connectors:  memory.NewConnectorStore(),
		checkpoints: memory.NewCheckpointStore(),
		publisher:   ingest.NewRecordingPublisher(),
		factory:     NewProviderFactory(),
	}
	if provider != nil {
		h.factory.Register("stub", func() driven.Provider { return provider })
	}
	opts = append([]SyncOption{
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}),
	}, opts...)
	h.orch = NewSyncOrchestrator(h.connectors, h.checkpoints, h.factory, h.publisher, opts...)

	require.NoError(t, h.connectors.Save(context.Background(), domain.Connector{
		ID:           "conn-1",
		Name:         "Test Connector",
		ProviderType: "stub",
		Config:       domain.ProviderConfig{},
		Status:       domain.StatusActive,
	}))
	return h
}

func (h *testHarness) connector(t *testing.T) *domain.Connector {
	t.Helper()
	c, err := h.connectors.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	return c
}

func (h *testHarness) checkpoint(t *testing.T) domain.Checkpoint {
	t.Helper()
	payload, err := h.checkpoints.Get(context.Background(), "conn-1")
	require.NoError(t, err)
	cp, err := domain.DecodeCheckpoint(payload)
	require.NoError(t, err)
	return cp
}

func TestSync_MultiStage_TwoPrincipals(t *testing.T) {
	users := []string{"alice@example.com", "bob@example.com"}
	filesByUser := map[string][]string{
		"alice@example.com": {"a-1", "a-2"},
		"bob@example.com":   {"b-1"},
	}

	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			dcp.Lock()
			if len(dcp.CachedUserEmails) == 0 {
				dcp.CachedUserEmails = users
			}
			dcp.Unlock()
			for _, user := range dcp.CachedUserEmails {
				dcp.Lock()
				sc := dcp.UserCompletion(user)
				dcp.Unlock()
				for sc.Stage != domain.StageDone {
					if sc.Stage == domain.StageUserDrive {
						for _, id := range filesByUser[user] {
							if !emitFile(ctx, dcp, id, items) {
								return
							}
						}
					}
					dcp.Lock()
					dcp.AdvanceUserStage(user)
					dcp.Unlock()
				}
			}
		},
	}

	h := newHarness(t, provider)
	require.NoError(t, h.orch.Sync(context.Background(), "conn-1"))

	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.False(t, cp.HasMore)
	assert.Equal(t, domain.StageDone, cp.Stage)
	require.Len(t, cp.UserCompletions, 2)
	for _, sc := range cp.UserCompletions {
		assert.Equal(t, domain.StageDone, sc.Stage)
	}
	assert.Equal(t, 3, cp.DocumentsProcessed)
	assert.NotNil(t, cp.LastSyncStart)

	connector := h.connector(t)
	assert.Equal(t, domain.StatusActive, connector.Status)
	assert.Equal(t, 3, connector.DocsAnalyzed)
	require.NotNil(t, connector.LastSyncAt)

	assert.ElementsMatch(t, []string{"a-1", "a-2", "b-1"}, h.publisher.ItemIDs("conn-1"))
	assert.True(t, provider.closed)
}

func TestSync_ResumeDoesNotReemitDedupedIDs(t *testing.T) {
	// Session A: emits 1 and 2, then fails fatally before 3.
	crashing := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, errs chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			emitFile(ctx, dcp, "file-1", items)
			emitFile(ctx, dcp, "file-2", items)
			errs <- domain.NewCheckpointError("simulated crash", nil)
		},
	}
	h := newHarness(t, crashing, WithPersistEvery(1))

	err := h.orch.Sync(context.Background(), "conn-1")
	require.Error(t, err)
	assert.Equal(t, domain.StatusError, h.connector(t).Status)

	// The persisted checkpoint carries the dedup set and has_more.
	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.True(t, cp.HasMore)
	assert.True(t, cp.RetrievedIDs.Has("file-1"))
	assert.True(t, cp.RetrievedIDs.Has("file-2"))

	// Session B: provider retries all three IDs; dedup must suppress 1 and 2.
	resumed := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			for _, id := range []string{"file-1", "file-2", "file-3"} {
				if !emitFile(ctx, dcp, id, items) {
					return
				}
			}
		},
	}
	h.factory.Register("stub", func() driven.Provider { return resumed })
	sessionB := ingest.NewRecordingPublisher()
	orchB := NewSyncOrchestrator(h.connectors, h.checkpoints, h.factory, sessionB)

	require.NoError(t, orchB.Sync(context.Background(), "conn-1"))

	assert.Equal(t, []string{"file-3"}, sessionB.ItemIDs("conn-1"))
	final := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.False(t, final.HasMore)
	assert.Equal(t, 3, final.DocumentsProcessed)
}

func TestSync_PersistEveryItemDuringLiveMutation(t *testing.T) {
	// Persisting after every item encodes the checkpoint while the
	// provider goroutine keeps mutating it between handoffs.
	const total = 200
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			for i := 0; i < total; i++ {
				if !emitFile(ctx, dcp, fmt.Sprintf("file-%03d", i), items) {
					return
				}
			}
		},
	}
	h := newHarness(t, provider, WithPersistEvery(1))

	require.NoError(t, h.orch.Sync(context.Background(), "conn-1"))

	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.False(t, cp.HasMore)
	assert.Equal(t, total, cp.DocumentsProcessed)
	assert.Equal(t, total, cp.RetrievedIDs.Len())
	assert.Len(t, h.publisher.ItemIDs("conn-1"), total)
}

func TestSync_FatalErrorAtStreamEndAborts(t *testing.T) {
	// The terminal fatal error sits buffered in the error channel when
	// the item stream closes; it must still fail the session.
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, errs chan<- error) {
			emitFile(ctx, cp.(*domain.DriveCheckpoint), "file-1", items)
			errs <- domain.NewCheckpointError("changes token expired", nil)
		},
	}
	h := newHarness(t, provider)

	err := h.orch.Sync(context.Background(), "conn-1")

	require.Error(t, err)
	category, ok := domain.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryCheckpoint, category)
	assert.Equal(t, domain.StatusError, h.connector(t).Status)

	// The session did not complete: has_more stays set for the resume.
	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.True(t, cp.HasMore)
	assert.True(t, cp.RetrievedIDs.Has("file-1"))
}

func TestSync_OversizedFileSkippedWithoutError(t *testing.T) {
	// The provider skips the oversized file silently: not an error.
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			emitFile(ctx, dcp, "small-1", items)
			// huge-2 exceeds the size limit: skipped, no emission.
			emitFile(ctx, dcp, "small-3", items)
		},
	}
	h := newHarness(t, provider)

	require.NoError(t, h.orch.Sync(context.Background(), "conn-1"))

	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.False(t, cp.HasMore)
	assert.Equal(t, 0, cp.ErrorCount)
	assert.Equal(t, []string{"small-1", "small-3"}, h.publisher.ItemIDs("conn-1"))
}

func TestSync_ItemErrorIncrementsErrorCountAndContinues(t *testing.T) {
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, errs chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			emitFile(ctx, dcp, "ok-1", items)
			errs <- domain.NewDownloadError("fetch bad-2", nil)
			emitFile(ctx, dcp, "ok-3", items)
		},
	}
	h := newHarness(t, provider)

	require.NoError(t, h.orch.Sync(context.Background(), "conn-1"))

	cp := h.checkpoint(t)
	assert.Equal(t, 1, cp.Base().ErrorCount)
	assert.False(t, cp.Base().HasMore)
	assert.ElementsMatch(t, []string{"ok-1", "ok-3"}, h.publisher.ItemIDs("conn-1"))
	assert.Equal(t, domain.StatusActive, h.connector(t).Status)
}

func TestSync_AuthenticationFailureIsFatal(t *testing.T) {
	provider := &stubProvider{
		authErr: domain.NewAuthenticationError("expired credentials", nil),
	}
	h := newHarness(t, provider)

	err := h.orch.Sync(context.Background(), "conn-1")

	require.Error(t, err)
	category, ok := domain.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryAuthentication, category)

	connector := h.connector(t)
	assert.Equal(t, domain.StatusError, connector.Status)
	assert.Contains(t, connector.StatusMessage, "expired credentials")
	assert.Empty(t, h.publisher.ItemIDs("conn-1"))
}

func TestSync_UnknownProviderType(t *testing.T) {
	h := newHarness(t, nil) // nothing registered

	err := h.orch.Sync(context.Background(), "conn-1")

	require.Error(t, err)
	category, ok := domain.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryProviderNotFound, category)
	assert.Equal(t, domain.StatusError, h.connector(t).Status)
}

func TestSync_CorruptCheckpointAborts(t *testing.T) {
	h := newHarness(t, &stubProvider{})
	require.NoError(t, h.checkpoints.Save(context.Background(), "conn-1", []byte(`{"_type":"Mystery"}`)))

	err := h.orch.Sync(context.Background(), "conn-1")

	require.Error(t, err)
	category, ok := domain.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryCheckpoint, category)
	assert.Equal(t, domain.StatusError, h.connector(t).Status)
}

func TestSync_SecondSessionForSameConnectorRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, _ domain.Checkpoint, _ chan<- domain.SyncItem, _ chan<- error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
		},
	}
	h := newHarness(t, provider)

	done := make(chan error, 1)
	go func() { done <- h.orch.Sync(context.Background(), "conn-1") }()
	<-started

	err := h.orch.Sync(context.Background(), "conn-1")
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	status, err := h.orch.Status(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.True(t, status.Running)

	close(release)
	require.NoError(t, <-done)

	status, err = h.orch.Status(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestSync_RateLimitedPublishRetriedAfterHint(t *testing.T) {
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			emitFile(ctx, cp.(*domain.DriveCheckpoint), "file-x", items)
		},
	}

	h := newHarness(t, provider)
	const hint = 30 * time.Millisecond
	limited := &rateLimitedOnce{inner: h.publisher, retryAfter: hint}
	h.orch = NewSyncOrchestrator(h.connectors, h.checkpoints, h.factory, limited,
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}))

	start := time.Now()
	require.NoError(t, h.orch.Sync(context.Background(), "conn-1"))
	elapsed := time.Since(start)

	// The retry succeeded: the item arrived, nothing was counted as an
	// error, and the hint was honoured before the second attempt.
	assert.Equal(t, []string{"file-x"}, h.publisher.ItemIDs("conn-1"))
	assert.Equal(t, 0, h.checkpoint(t).Base().ErrorCount)
	assert.GreaterOrEqual(t, elapsed, hint)
	assert.Equal(t, 2, limited.calls)
}

// rateLimitedOnce fails the first publish with a rate limit hint.
type rateLimitedOnce struct {
	inner      *ingest.RecordingPublisher
	retryAfter time.Duration
	calls      int
}

func (p *rateLimitedOnce) Publish(ctx context.Context, connectorID string, item domain.SyncItem) error {
	p.calls++
	if p.calls == 1 {
		return domain.NewRateLimitError("throttled", p.retryAfter, nil)
	}
	return p.inner.Publish(ctx, connectorID, item)
}

func TestSync_CancellationPersistsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			dcp := cp.(*domain.DriveCheckpoint)
			emitFile(ctx, dcp, "file-1", items)
			emitFile(ctx, dcp, "file-2", items)
			cancel()
			// Hold the stream open so the consumer observes the
			// cancellation rather than exhaustion.
			<-release
		},
	}
	h := newHarness(t, provider, WithPersistEvery(1))

	err := h.orch.Sync(ctx, "conn-1")
	require.ErrorIs(t, err, context.Canceled)

	cp := h.checkpoint(t).(*domain.DriveCheckpoint)
	assert.True(t, cp.HasMore)
	assert.True(t, cp.RetrievedIDs.Has("file-1"))
	assert.True(t, cp.RetrievedIDs.Has("file-2"))
	assert.True(t, provider.closed)
}

func TestSyncAll_SyncsEveryConnector(t *testing.T) {
	provider := &stubProvider{
		syncFn: func(ctx context.Context, _ domain.ProviderConfig, cp domain.Checkpoint, items chan<- domain.SyncItem, _ chan<- error) {
			emitFile(ctx, cp.(*domain.DriveCheckpoint), "doc", items)
		},
	}
	h := newHarness(t, provider)
	require.NoError(t, h.connectors.Save(context.Background(), domain.Connector{
		ID:           "conn-2",
		Name:         "Second",
		ProviderType: "stub",
		Config:       domain.ProviderConfig{},
	}))

	require.NoError(t, h.orch.SyncAll(context.Background()))

	assert.Len(t, h.publisher.ItemIDs("conn-1"), 1)
	assert.Len(t, h.publisher.ItemIDs("conn-2"), 1)
}
