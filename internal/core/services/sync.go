package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driving"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// DefaultPersistEvery is how many emitted items may pass between
// checkpoint writes. Trades durability granularity against write
// amplification.
const DefaultPersistEvery = 25

// DefaultMaxConcurrentSyncs bounds how many connectors sync at once.
const DefaultMaxConcurrentSyncs = 4

// SyncOrchestrator owns sync sessions end-to-end: it loads or creates
// the connector's checkpoint, authenticates the provider, consumes the
// provider's item stream, hands items downstream, and persists progress
// at a bounded cadence so a crashed session resumes from the last
// durable point.
type SyncOrchestrator struct {
	connectorStore  driven.ConnectorStore
	checkpointStore driven.CheckpointStore
	factory         driven.ProviderFactory
	publisher       driven.IngestPublisher

	retry        RetryPolicy
	persistEvery int
	sem          chan struct{}

	// Session tracking. A connector's checkpoint is exclusively owned
	// by its active session.
	mu          sync.RWMutex
	activeSyncs map[string]*driving.SyncStatus
}

// SyncOption customises orchestrator behaviour.
type SyncOption func(*SyncOrchestrator)

// WithRetryPolicy overrides the retry policy for recoverable failures.
func WithRetryPolicy(p RetryPolicy) SyncOption {
	return func(o *SyncOrchestrator) { o.retry = p }
}

// WithPersistEvery overrides the checkpoint persistence cadence.
func WithPersistEvery(n int) SyncOption {
	return func(o *SyncOrchestrator) {
		if n > 0 {
			o.persistEvery = n
		}
	}
}

// WithMaxConcurrentSyncs overrides the concurrent session bound.
func WithMaxConcurrentSyncs(n int) SyncOption {
	return func(o *SyncOrchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(
	connectorStore driven.ConnectorStore,
	checkpointStore driven.CheckpointStore,
	factory driven.ProviderFactory,
	publisher driven.IngestPublisher,
	opts ...SyncOption,
) *SyncOrchestrator {
	o := &SyncOrchestrator{
		connectorStore:  connectorStore,
		checkpointStore: checkpointStore,
		factory:         factory,
		publisher:       publisher,
		retry:           DefaultRetryPolicy,
		persistEvery:    DefaultPersistEvery,
		sem:             make(chan struct{}, DefaultMaxConcurrentSyncs),
		activeSyncs:     make(map[string]*driving.SyncStatus),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync runs one sync session for a connector end-to-end.
func (o *SyncOrchestrator) Sync(ctx context.Context, connectorID string) error {
	// Exclusive ownership: never two sessions for the same connector.
	status, err := o.claimSession(connectorID)
	if err != nil {
		return err
	}
	defer o.releaseSession(connectorID)

	// Bound concurrent sessions across connectors.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	connector, err := o.connectorStore.Get(ctx, connectorID)
	if err != nil {
		return fmt.Errorf("get connector: %w", err)
	}

	provider, err := o.factory.Create(connector.ProviderType)
	if err != nil {
		o.markError(ctx, connectorID, err)
		return err
	}
	defer provider.Close()

	checkpoint, err := o.loadCheckpoint(ctx, connectorID, provider)
	if err != nil {
		o.markError(ctx, connectorID, err)
		return err
	}

	if err := o.connectorStore.UpdateStatus(ctx, connectorID, domain.StatusSyncing, ""); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	// Authentication failures are fatal and not retryable without
	// operator intervention.
	if err := provider.Authenticate(ctx, connector.Config); err != nil {
		o.markError(ctx, connectorID, err)
		return fmt.Errorf("authenticate %s: %w", provider.Name(), err)
	}

	now := time.Now().UTC()
	base := checkpoint.Base()
	base.LastSyncStart = &now
	base.HasMore = true

	logger.Info("Starting sync for connector %s (%s)", connectorID, provider.Name())

	sessionErr := o.runSession(ctx, connectorID, connector.Config, provider, checkpoint, status)

	// Persist whatever progress the session made, even on failure or
	// cancellation, so the next session resumes from here. The write
	// must survive the cancelled context.
	persistCtx := context.WithoutCancel(ctx)
	if persistErr := o.persistCheckpoint(persistCtx, connectorID, checkpoint); persistErr != nil {
		sessionErr = errors.Join(sessionErr, persistErr)
	}

	if sessionErr != nil {
		o.markError(ctx, connectorID, sessionErr)
		return sessionErr
	}

	base.HasMore = false
	if err := o.persistCheckpoint(ctx, connectorID, checkpoint); err != nil {
		o.markError(ctx, connectorID, err)
		return err
	}

	finished := time.Now().UTC()
	if err := o.connectorStore.RecordSyncResult(ctx, connectorID, base.DocumentsProcessed, finished); err != nil {
		return fmt.Errorf("record sync result: %w", err)
	}
	if err := o.connectorStore.UpdateStatus(ctx, connectorID, domain.StatusActive, ""); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	logger.Info("Sync complete for %s: %d documents, %d errors",
		connectorID, status.DocumentsProcessed, status.ErrorCount)
	return nil
}

// runSession consumes the provider's item stream until exhaustion,
// cancellation, or a fatal error.
func (o *SyncOrchestrator) runSession(
	ctx context.Context,
	connectorID string,
	cfg domain.ProviderConfig,
	provider driven.Provider,
	checkpoint domain.Checkpoint,
	status *driving.SyncStatus,
) error {
	itemsCh, errsCh := provider.Sync(ctx, cfg, checkpoint)
	base := checkpoint.Base()
	sincePersist := 0

	// The session is complete only when both channels are closed: a
	// provider's terminal error sits buffered in errsCh when the item
	// stream closes, so the error channel must be drained to the end.
	for itemsCh != nil || errsCh != nil {
		select {
		case <-ctx.Done():
			// Stop at the safe boundary: the last item's checkpoint
			// mutation is already applied; the caller persists.
			return ctx.Err()

		case err, ok := <-errsCh:
			if !ok {
				errsCh = nil
				continue
			}
			if domain.IsFatal(err) {
				return fmt.Errorf("provider %s: %w", provider.Name(), err)
			}
			// A skipped item: retries are already exhausted inside the
			// provider's pipeline.
			base.ErrorCount++
			status.ErrorCount++
			logger.Warn("Skipping item for %s: %v", connectorID, err)

		case item, ok := <-itemsCh:
			if !ok {
				itemsCh = nil
				continue
			}

			if err := o.publish(ctx, connectorID, item); err != nil {
				if domain.IsFatal(err) {
					return err
				}
				base.ErrorCount++
				status.ErrorCount++
				logger.Warn("Dropping item %s for %s: %v", item.ItemID(), connectorID, err)
				continue
			}
			status.DocumentsProcessed++

			sincePersist++
			if sincePersist >= o.persistEvery {
				if err := o.persistCheckpoint(ctx, connectorID, checkpoint); err != nil {
					return err
				}
				sincePersist = 0
			}
		}
	}
	return nil
}

// publish hands one item downstream, retrying transient failures.
func (o *SyncOrchestrator) publish(ctx context.Context, connectorID string, item domain.SyncItem) error {
	return o.retry.Retry(ctx, "publish "+item.ItemID(), func(ctx context.Context) error {
		return o.publisher.Publish(ctx, connectorID, item)
	})
}

// loadCheckpoint restores the connector's persisted checkpoint or asks
// the provider for a fresh one on first sync.
func (o *SyncOrchestrator) loadCheckpoint(
	ctx context.Context,
	connectorID string,
	provider driven.Provider,
) (domain.Checkpoint, error) {
	payload, err := o.checkpointStore.Get(ctx, connectorID)
	if errors.Is(err, domain.ErrNotFound) {
		return provider.CreateCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	checkpoint, err := domain.DecodeCheckpoint(payload)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return checkpoint, nil
}

// persistCheckpoint serialises and durably stores the checkpoint,
// retrying transient storage failures.
func (o *SyncOrchestrator) persistCheckpoint(ctx context.Context, connectorID string, checkpoint domain.Checkpoint) error {
	payload, err := domain.EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	return o.retry.Retry(ctx, "persist checkpoint", func(ctx context.Context) error {
		return o.checkpointStore.Save(ctx, connectorID, payload)
	})
}

// SyncAll runs sync sessions for every configured connector.
func (o *SyncOrchestrator) SyncAll(ctx context.Context) error {
	connectors, err := o.connectorStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list connectors: %w", err)
	}

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, connector := range connectors {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := o.Sync(ctx, id); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("sync %s: %w", id, err))
				emu.Unlock()
			}
		}(connector.ID)
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Status returns sync status for a connector.
func (o *SyncOrchestrator) Status(_ context.Context, connectorID string) (*driving.SyncStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status, ok := o.activeSyncs[connectorID]; ok {
		// Return a copy to avoid race conditions.
		return &driving.SyncStatus{
			ConnectorID:        status.ConnectorID,
			Running:            status.Running,
			DocumentsProcessed: status.DocumentsProcessed,
			ErrorCount:         status.ErrorCount,
		}, nil
	}

	// Not running - return idle status.
	return &driving.SyncStatus{
		ConnectorID: connectorID,
		Running:     false,
	}, nil
}

// claimSession registers exclusive ownership of a connector's session.
func (o *SyncOrchestrator) claimSession(connectorID string) (*driving.SyncStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.activeSyncs[connectorID]; ok {
		return nil, domain.ErrSyncInProgress
	}
	status := &driving.SyncStatus{ConnectorID: connectorID, Running: true}
	o.activeSyncs[connectorID] = status
	return status, nil
}

// releaseSession removes the session registration for a connector.
func (o *SyncOrchestrator) releaseSession(connectorID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeSyncs, connectorID)
}

// markError transitions the connector to error status with the failure
// message. Best effort: status reporting never masks the session error.
func (o *SyncOrchestrator) markError(ctx context.Context, connectorID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := o.connectorStore.UpdateStatus(ctx, connectorID, domain.StatusError, cause.Error()); err != nil {
		logger.Warn("Failed to update status for %s: %v", connectorID, err)
	}
}
