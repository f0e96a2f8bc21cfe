package googledrive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/api/drive/v3"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/core/services"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// Ensure Provider implements the interface.
var _ driven.Provider = (*Provider)(nil)

// Provider syncs documents from Google Drive under service-account
// impersonation. Each configured principal's personal drive is crawled
// in stages, followed by shared drives and any explicitly configured
// folders; later runs use the Changes API from the stored token.
type Provider struct {
	mu       sync.Mutex
	closed   bool
	cfg      *Config
	keyData  []byte
	services map[string]*drive.Service

	limiter *RateLimiter
	retry   services.RetryPolicy
}

// New creates a Google Drive provider.
func New() *Provider {
	return &Provider{
		services: make(map[string]*drive.Service),
		limiter:  NewRateLimiter(),
		retry:    services.DefaultRetryPolicy,
	}
}

// Name returns the provider identity string.
func (p *Provider) Name() string { return ProviderType }

// CreateCheckpoint returns a fresh multi-stage Drive checkpoint.
func (p *Provider) CreateCheckpoint() domain.Checkpoint { return domain.NewDriveCheckpoint() }

// Authenticate parses the connector config, validates the service
// account key, and probes the first principal's Drive.
func (p *Provider) Authenticate(ctx context.Context, cfg domain.ProviderConfig) error {
	parsed, err := ParseConfig(cfg)
	if err != nil {
		return domain.NewAuthenticationError("invalid configuration", err)
	}

	keyData := []byte(parsed.ServiceAccountKey)
	if err := validateServiceAccountKey(keyData); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrProviderClosed
	}
	p.cfg = parsed
	p.keyData = keyData
	p.mu.Unlock()

	svc, err := p.serviceFor(ctx, parsed.UserEmails[0])
	if err != nil {
		return err
	}
	if _, err := svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return domain.NewAuthenticationError("probe drive access", err)
	}
	return nil
}

// CheckConnection probes Drive access without side effects.
func (p *Provider) CheckConnection(ctx context.Context) bool {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()
	if cfg == nil {
		return false
	}
	svc, err := p.serviceFor(ctx, cfg.UserEmails[0])
	if err != nil {
		return false
	}
	_, err = svc.About.Get().Fields("user").Context(ctx).Do()
	return err == nil
}

// Close releases cached API clients.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.services = make(map[string]*drive.Service)
	return nil
}

// serviceFor returns a Drive client impersonating the given principal,
// creating and caching it on first use.
func (p *Provider) serviceFor(ctx context.Context, email string) (*drive.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrProviderClosed
	}
	if svc, ok := p.services[email]; ok {
		return svc, nil
	}
	svc, err := newDriveService(ctx, p.keyData, email)
	if err != nil {
		return nil, err
	}
	p.services[email] = svc
	return svc, nil
}

// call runs one rate-limited Drive API call with retry on transient
// failures, feeding 429 hints back into the limiter.
func (p *Provider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return p.retry.Retry(ctx, op, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		err := classifyError(op, fn(ctx))
		if err != nil && domain.CategoryIs(err, domain.CategoryRateLimit) {
			p.limiter.RecordRateLimitError(domain.RetryAfterHint(err))
		}
		return err
	})
}

// DownloadFile fetches one file's content, applying export rules for
// Google Workspace formats and the configured size limit otherwise.
func (p *Provider) DownloadFile(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (*domain.DownloadedFile, error) {
	parsed, svc, err := p.sessionConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p.downloadWith(ctx, svc, file, parsed)
}

func (p *Provider) downloadWith(ctx context.Context, svc *drive.Service, file domain.FileMetadata, cfg *Config) (*domain.DownloadedFile, error) {
	var (
		content  []byte
		mimeType string
	)
	err := p.retry.Retry(ctx, "download "+file.ID, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		content, mimeType, ferr = fetchContent(ctx, svc, file, cfg)
		if ferr != nil && domain.CategoryIs(ferr, domain.CategoryRateLimit) {
			p.limiter.RecordRateLimitError(domain.RetryAfterHint(ferr))
		}
		return ferr
	})
	if err != nil {
		return nil, err
	}

	out := &domain.DownloadedFile{
		ID:          file.ID,
		Name:        file.Name,
		Content:     content,
		MIMEType:    mimeType,
		ContentHash: file.ContentHash,
		ParentID:    file.ParentID,
		WebURL:      file.WebURL,
	}
	if file.ModifiedAt != nil {
		out.ModifiedAt = *file.ModifiedAt
	}
	return out, nil
}

// GetFilePermissions fetches the file's current ACL and maps it to an
// access descriptor.
func (p *Provider) GetFilePermissions(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (domain.ExternalAccess, error) {
	_, svc, err := p.sessionConfig(ctx, cfg)
	if err != nil {
		return domain.EmptyAccess(), err
	}
	return p.permissionsWith(ctx, svc, file)
}

func (p *Provider) permissionsWith(ctx context.Context, svc *drive.Service, file domain.FileMetadata) (domain.ExternalAccess, error) {
	var perms []*drive.Permission
	err := p.retry.Retry(ctx, "permissions "+file.ID, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		perms = perms[:0]
		call := svc.Permissions.List(file.ID).
			SupportsAllDrives(true).
			Fields("nextPageToken, permissions(type, emailAddress, deleted)").
			Context(ctx)
		perr := call.Pages(ctx, func(page *drive.PermissionList) error {
			perms = append(perms, page.Permissions...)
			return nil
		})
		cerr := classifyPermissionError("permissions "+file.ID, perr)
		if cerr != nil && domain.CategoryIs(cerr, domain.CategoryRateLimit) {
			p.limiter.RecordRateLimitError(domain.RetryAfterHint(cerr))
		}
		return cerr
	})
	if err != nil {
		return domain.EmptyAccess(), err
	}
	return permissionsToAccess(perms), nil
}

// sessionConfig resolves the parsed config and primary principal's
// client, parsing cfg on the fly when Authenticate was skipped.
func (p *Provider) sessionConfig(ctx context.Context, cfg domain.ProviderConfig) (*Config, *drive.Service, error) {
	p.mu.Lock()
	parsed := p.cfg
	p.mu.Unlock()

	if parsed == nil {
		var err error
		parsed, err = ParseConfig(cfg)
		if err != nil {
			return nil, nil, domain.NewAuthenticationError("invalid configuration", err)
		}
		p.mu.Lock()
		p.cfg = parsed
		p.keyData = []byte(parsed.ServiceAccountKey)
		p.mu.Unlock()
	}

	svc, err := p.serviceFor(ctx, parsed.UserEmails[0])
	if err != nil {
		return nil, nil, err
	}
	return parsed, svc, nil
}

// GetChanges streams change events from the Drive Changes API using
// the checkpoint's stored token.
func (p *Provider) GetChanges(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.FileChange, <-chan error) {
	changes := make(chan domain.FileChange)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		cp, ok := checkpoint.(*domain.DriveCheckpoint)
		if !ok {
			errs <- domain.NewCheckpointError(
				fmt.Sprintf("expected drive checkpoint, got %s", checkpoint.Type()), nil)
			return
		}
		if cp.ChangesToken == "" {
			errs <- domain.NewCheckpointError("no changes token: full sync required first", nil)
			return
		}

		parsed, svc, err := p.sessionConfig(ctx, cfg)
		if err != nil {
			errs <- err
			return
		}

		err = p.streamChanges(ctx, svc, cp, func(change domain.FileChange) error {
			if change.Metadata != nil && !parsed.MatchesMimeFilter(change.Metadata.MIMEType) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case changes <- change:
				return nil
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	return changes, errs
}

// streamChanges walks the Changes API from the checkpoint's token,
// advancing the token page by page so interrupted runs resume.
func (p *Provider) streamChanges(ctx context.Context, svc *drive.Service, cp *domain.DriveCheckpoint, emit func(domain.FileChange) error) error {
	token := cp.ChangesToken
	for token != "" {
		var page *drive.ChangeList
		err := p.call(ctx, "list changes", func(ctx context.Context) error {
			var cerr error
			page, cerr = svc.Changes.List(token).
				IncludeItemsFromAllDrives(true).
				SupportsAllDrives(true).
				Fields("nextPageToken, newStartPageToken, changes(fileId, removed, file(" + fileFields + "))").
				Context(ctx).
				Do()
			return cerr
		})
		if err != nil {
			return err
		}

		for _, change := range page.Changes {
			fc := domain.FileChange{ID: change.FileId}
			switch {
			case change.Removed || (change.File != nil && change.File.Trashed):
				fc.Action = domain.ActionDelete
			case change.File != nil:
				meta := fileToMetadata(change.File)
				fc.Metadata = &meta
				if cp.RetrievedIDs.Has(change.FileId) {
					fc.Action = domain.ActionUpdate
				} else {
					fc.Action = domain.ActionCreate
				}
			default:
				continue
			}
			if err := emit(fc); err != nil {
				return err
			}
		}

		if page.NextPageToken != "" {
			token = page.NextPageToken
			cp.Lock()
			cp.ChangesToken = token
			cp.Unlock()
			continue
		}
		if page.NewStartPageToken != "" {
			cp.Lock()
			cp.ChangesToken = page.NewStartPageToken
			cp.Unlock()
		}
		return nil
	}
	return nil
}

// Sync is the composed entry point: full staged crawl on the first
// pass, Changes API afterwards. The checkpoint is mutated only for
// items fully handed to the consumer.
func (p *Provider) Sync(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.SyncItem, <-chan error) {
	items := make(chan domain.SyncItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		cp, ok := checkpoint.(*domain.DriveCheckpoint)
		if !ok {
			errs <- domain.NewCheckpointError(
				fmt.Sprintf("expected drive checkpoint, got %s", checkpoint.Type()), nil)
			return
		}

		parsed, _, err := p.sessionConfig(ctx, cfg)
		if err != nil {
			errs <- err
			return
		}

		session := &driveSession{provider: p, cfg: parsed, cp: cp, items: items, errs: errs}
		if cp.ChangesToken != "" {
			err = session.incremental(ctx)
		} else {
			err = session.fullCrawl(ctx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	return items, errs
}

// driveSession carries the state of one sync pass.
type driveSession struct {
	provider *Provider
	cfg      *Config
	cp       *domain.DriveCheckpoint
	items    chan<- domain.SyncItem
	errs     chan<- error
}

// fullCrawl walks every principal through the staged crawl, then stores
// a changes token so the next session is incremental.
func (s *driveSession) fullCrawl(ctx context.Context) error {
	if len(s.cp.CachedUserEmails) == 0 {
		s.cp.Lock()
		s.cp.CachedUserEmails = append([]string(nil), s.cfg.UserEmails...)
		s.cp.Unlock()
	}

	for _, email := range s.cp.CachedUserEmails {
		if err := s.crawlPrincipal(ctx, email); err != nil {
			return err
		}
	}

	// Snapshot the changes cursor for incremental runs.
	svc, err := s.provider.serviceFor(ctx, s.cp.CachedUserEmails[0])
	if err != nil {
		return err
	}
	var start *drive.StartPageToken
	err = s.provider.call(ctx, "get start page token", func(ctx context.Context) error {
		var cerr error
		start, cerr = svc.Changes.GetStartPageToken().SupportsAllDrives(true).Context(ctx).Do()
		return cerr
	})
	if err != nil {
		return err
	}
	s.cp.Lock()
	s.cp.ChangesToken = start.StartPageToken
	s.cp.Unlock()
	return nil
}

// crawlPrincipal advances one principal through the stage machine until
// done. Re-entry after a crash resumes at the persisted stage and page
// token.
func (s *driveSession) crawlPrincipal(ctx context.Context, email string) error {
	svc, err := s.provider.serviceFor(ctx, email)
	if err != nil {
		return err
	}
	s.cp.Lock()
	sc := s.cp.UserCompletion(email)
	s.cp.Unlock()

	for sc.Stage != domain.StageDone {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch sc.Stage {
		case domain.StageStart:
			// Nothing to crawl before the first real stage.

		case domain.StageUserDrive:
			logger.Debug("Crawling personal drive for %s", email)
			if err := s.crawlListing(ctx, svc, sc, userDriveQuery, ""); err != nil {
				return err
			}

		case domain.StageSharedDriveIDs:
			if err := s.discoverSharedDrives(ctx, svc); err != nil {
				return err
			}

		case domain.StageSharedDriveFiles:
			if err := s.crawlSharedDrives(ctx, svc, sc); err != nil {
				return err
			}

		case domain.StageFolderCrawl:
			if err := s.crawlFolders(ctx, svc, sc); err != nil {
				return err
			}
		}

		s.cp.Lock()
		s.cp.AdvanceUserStage(email)
		s.cp.Unlock()
	}
	return nil
}

const userDriveQuery = "'me' in owners and trashed = false"

// discoverSharedDrives caches the shared drive IDs once per session.
func (s *driveSession) discoverSharedDrives(ctx context.Context, svc *drive.Service) error {
	if len(s.cp.CachedDriveIDs) > 0 {
		return nil
	}
	pageToken := ""
	for {
		var page *drive.DriveList
		err := s.provider.call(ctx, "list shared drives", func(ctx context.Context) error {
			call := svc.Drives.List().PageSize(100).Fields("nextPageToken, drives(id)").Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var cerr error
			page, cerr = call.Do()
			return cerr
		})
		if err != nil {
			return err
		}
		s.cp.Lock()
		for _, d := range page.Drives {
			s.cp.CachedDriveIDs = append(s.cp.CachedDriveIDs, d.Id)
		}
		s.cp.Unlock()
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// crawlSharedDrives lists every cached shared drive's files, tracking
// per-drive completion so a restart skips finished drives.
func (s *driveSession) crawlSharedDrives(ctx context.Context, svc *drive.Service, sc *domain.StageCompletion) error {
	for _, driveID := range s.cp.CachedDriveIDs {
		if sc.ProcessedFolderIDs.Has(driveID) {
			continue
		}
		if sc.CurrentFolderID != driveID {
			s.cp.Lock()
			sc.CurrentFolderID = driveID
			sc.NextPageToken = ""
			s.cp.Unlock()
		}
		if err := s.crawlListing(ctx, svc, sc, "trashed = false", driveID); err != nil {
			return err
		}
		s.cp.Lock()
		sc.ProcessedFolderIDs.Add(driveID)
		sc.CurrentFolderID = ""
		s.cp.Unlock()
	}
	return nil
}

// crawlFolders breadth-first crawls the configured folders, skipping
// any folder already fully covered.
func (s *driveSession) crawlFolders(ctx context.Context, svc *drive.Service, sc *domain.StageCompletion) error {
	queue := append([]string(nil), s.cfg.FolderIDs...)
	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]
		if s.cp.CrawledFolderIDs.Has(folderID) {
			continue
		}

		if sc.CurrentFolderID != folderID {
			s.cp.Lock()
			sc.CurrentFolderID = folderID
			sc.NextPageToken = ""
			s.cp.Unlock()
		}
		query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

		pageToken := sc.NextPageToken
		for {
			page, err := s.listPage(ctx, svc, query, "", pageToken)
			if err != nil {
				return err
			}
			for _, file := range page.Files {
				if file.MimeType == MimeTypeFolder {
					queue = append(queue, file.Id)
					continue
				}
				if err := s.emit(ctx, svc, file); err != nil {
					return err
				}
			}
			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
			s.cp.Lock()
			sc.NextPageToken = pageToken
			s.cp.Unlock()
		}

		s.cp.Lock()
		s.cp.CrawledFolderIDs.Add(folderID)
		sc.CurrentFolderID = ""
		sc.NextPageToken = ""
		s.cp.Unlock()
	}
	return nil
}

// crawlListing pages through one Files.List query, resuming from the
// completion record's stored page token and emitting eligible files.
func (s *driveSession) crawlListing(ctx context.Context, svc *drive.Service, sc *domain.StageCompletion, query, driveID string) error {
	pageToken := sc.NextPageToken
	for {
		page, err := s.listPage(ctx, svc, query, driveID, pageToken)
		if err != nil {
			return err
		}
		for _, file := range page.Files {
			if err := s.emit(ctx, svc, file); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			s.cp.Lock()
			sc.NextPageToken = ""
			s.cp.Unlock()
			return nil
		}
		pageToken = page.NextPageToken
		s.cp.Lock()
		sc.NextPageToken = pageToken
		s.cp.Unlock()
	}
}

// listPage fetches one page of a Files.List query.
func (s *driveSession) listPage(ctx context.Context, svc *drive.Service, query, driveID, pageToken string) (*drive.FileList, error) {
	var page *drive.FileList
	err := s.provider.call(ctx, "list files", func(ctx context.Context) error {
		call := svc.Files.List().
			Q(query).
			PageSize(s.cfg.MaxResults).
			Fields("nextPageToken, files(" + fileFields + ", driveId)").
			Context(ctx)
		if driveID != "" {
			call = call.Corpora("drive").
				DriveId(driveID).
				IncludeItemsFromAllDrives(true).
				SupportsAllDrives(true)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var cerr error
		page, cerr = call.Do()
		return cerr
	})
	return page, err
}

// emit runs one file through the download pipeline and hands it to the
// consumer. Dedup is committed only after the item is fully handed off.
func (s *driveSession) emit(ctx context.Context, svc *drive.Service, file *drive.File) error {
	if !ShouldSyncFile(file, s.cfg) {
		return nil
	}
	if s.cp.RetrievedIDs.Has(file.Id) {
		return nil
	}

	meta := fileToMetadata(file)
	item, err := s.fetch(ctx, svc, meta)
	if err != nil {
		if domain.IsFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if domain.CategoryIs(err, domain.CategoryFileTooLarge) {
			logger.Debug("Skipping oversized file %s (%s)", meta.Name, meta.ID)
			return nil
		}
		// Skipped item: report without failing the session.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.errs <- err:
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.items <- item:
	}
	s.cp.Lock()
	s.cp.MarkFileRetrieved(meta.ID)
	s.cp.Unlock()
	return nil
}

// fetch downloads content and attaches current permissions. Permission
// fetch exhaustion falls back to empty access rather than exposing the
// document too widely.
func (s *driveSession) fetch(ctx context.Context, svc *drive.Service, meta domain.FileMetadata) (*domain.DownloadedFile, error) {
	downloaded, err := s.provider.downloadWith(ctx, svc, meta, s.cfg)
	if err != nil {
		return nil, err
	}

	access, err := s.provider.permissionsWith(ctx, svc, meta)
	if err != nil {
		if domain.IsFatal(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		logger.Warn("Permission fetch failed for %s, falling back to empty access: %v", meta.ID, err)
		access = domain.EmptyAccess()
	}
	downloaded.Access = access
	return downloaded, nil
}

// incremental consumes the Changes API, downloading creates and
// updates and emitting deletes.
func (s *driveSession) incremental(ctx context.Context) error {
	svc, err := s.provider.serviceFor(ctx, s.principal())
	if err != nil {
		return err
	}

	return s.provider.streamChanges(ctx, svc, s.cp, func(change domain.FileChange) error {
		switch change.Action {
		case domain.ActionDelete:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case s.items <- &domain.DeletedFile{ID: change.ID}:
			}
			// Invalidate so a later re-create is emitted again.
			s.cp.Lock()
			delete(s.cp.RetrievedIDs, change.ID)
			s.cp.Unlock()
			return nil

		case domain.ActionCreate, domain.ActionUpdate:
			if change.Metadata == nil || !s.cfg.MatchesMimeFilter(change.Metadata.MIMEType) {
				return nil
			}
			item, err := s.fetch(ctx, svc, *change.Metadata)
			if err != nil {
				if domain.IsFatal(err) || errors.Is(err, context.Canceled) {
					return err
				}
				if domain.CategoryIs(err, domain.CategoryFileTooLarge) {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s.errs <- err:
				}
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case s.items <- item:
			}
			s.cp.Lock()
			s.cp.MarkFileRetrieved(change.ID)
			s.cp.Unlock()
			return nil
		}
		return nil
	})
}

func (s *driveSession) principal() string {
	if len(s.cp.CachedUserEmails) > 0 {
		return s.cp.CachedUserEmails[0]
	}
	return s.cfg.UserEmails[0]
}
