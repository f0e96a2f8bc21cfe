package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/core/services"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// Ensure Provider implements the interface.
var _ driven.Provider = (*Provider)(nil)

// Provider syncs documents from SharePoint via the Microsoft Graph
// API. Sites are discovered once and crawled in FIFO order, drive by
// drive, through each drive's delta endpoint; the final delta link
// makes later sessions incremental.
type Provider struct {
	mu     sync.Mutex
	closed bool
	cfg    *Config
	client *Client

	// baseURL overrides the Graph endpoint, for tests.
	baseURL string
	retry   services.RetryPolicy
}

// New creates a SharePoint provider.
func New() *Provider {
	return &Provider{retry: services.DefaultRetryPolicy}
}

// NewWithBaseURL creates a provider against a non-default Graph
// endpoint.
func NewWithBaseURL(baseURL string) *Provider {
	return &Provider{baseURL: baseURL, retry: services.DefaultRetryPolicy}
}

// Name returns the provider identity string.
func (p *Provider) Name() string { return ProviderType }

// CreateCheckpoint returns a fresh FIFO SharePoint checkpoint.
func (p *Provider) CreateCheckpoint() domain.Checkpoint { return domain.NewSharePointCheckpoint() }

// Authenticate parses the connector config, builds the token-injecting
// client, and probes Graph with a site search.
func (p *Provider) Authenticate(ctx context.Context, cfg domain.ProviderConfig) error {
	parsed, err := ParseConfig(cfg)
	if err != nil {
		return domain.NewAuthenticationError("invalid configuration", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrProviderClosed
	}
	p.cfg = parsed
	p.client = NewClient(newAuthenticatedClient(ctx, parsed), p.baseURL)
	client := p.client
	p.mu.Unlock()

	var page sitePage
	if err := client.GetJSON(ctx, "/sites?search=*&$top=1", &page); err != nil {
		if domain.CategoryIs(err, domain.CategoryAuthentication) {
			return err
		}
		return domain.NewAuthenticationError("probe graph access", err)
	}
	return nil
}

// CheckConnection probes Graph access without side effects.
func (p *Provider) CheckConnection(ctx context.Context) bool {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return false
	}
	var page sitePage
	return client.GetJSON(ctx, "/sites?search=*&$top=1", &page) == nil
}

// Close releases the authenticated client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.client = nil
	return nil
}

// session resolves the parsed config and client, building them from
// cfg when Authenticate was skipped.
func (p *Provider) session(ctx context.Context, cfg domain.ProviderConfig) (*Config, *Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, domain.ErrProviderClosed
	}
	if p.cfg == nil {
		parsed, err := ParseConfig(cfg)
		if err != nil {
			return nil, nil, domain.NewAuthenticationError("invalid configuration", err)
		}
		p.cfg = parsed
		p.client = NewClient(newAuthenticatedClient(ctx, parsed), p.baseURL)
	}
	return p.cfg, p.client, nil
}

// getJSON is a retried GetJSON honouring rate-limit hints.
func (p *Provider) getJSON(ctx context.Context, client *Client, pathOrURL string, out any) error {
	return p.retry.Retry(ctx, "graph get", func(ctx context.Context) error {
		return client.GetJSON(ctx, pathOrURL, out)
	})
}

// DownloadFile fetches one file's raw content, enforcing the size
// limit.
func (p *Provider) DownloadFile(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (*domain.DownloadedFile, error) {
	parsed, client, err := p.session(ctx, cfg)
	if err != nil {
		return nil, err
	}
	driveID := driveIDOf(file)
	if driveID == "" {
		return nil, domain.NewDownloadError("file "+file.ID+" has no drive reference", nil)
	}
	return p.downloadWith(ctx, client, parsed, driveID, file)
}

func (p *Provider) downloadWith(ctx context.Context, client *Client, cfg *Config, driveID string, file domain.FileMetadata) (*domain.DownloadedFile, error) {
	if file.Size > cfg.MaxFileSize {
		return nil, domain.NewFileTooLargeError(file.Name, file.Size, cfg.MaxFileSize)
	}

	var content []byte
	err := p.retry.Retry(ctx, "download "+file.ID, func(ctx context.Context) error {
		var derr error
		content, derr = client.GetContent(ctx,
			fmt.Sprintf("/drives/%s/items/%s/content", driveID, file.ID), file.Name, cfg.MaxFileSize)
		return derr
	})
	if err != nil {
		return nil, err
	}

	out := &domain.DownloadedFile{
		ID:          file.ID,
		Name:        file.Name,
		Content:     content,
		MIMEType:    file.MIMEType,
		ContentHash: file.ContentHash,
		ParentID:    file.ParentID,
		WebURL:      file.WebURL,
	}
	if file.ModifiedAt != nil {
		out.ModifiedAt = *file.ModifiedAt
	}
	return out, nil
}

// GetFilePermissions fetches the item's current sharing state and maps
// it to an access descriptor.
func (p *Provider) GetFilePermissions(ctx context.Context, file domain.FileMetadata, cfg domain.ProviderConfig) (domain.ExternalAccess, error) {
	_, client, err := p.session(ctx, cfg)
	if err != nil {
		return domain.EmptyAccess(), err
	}
	driveID := driveIDOf(file)
	if driveID == "" {
		return domain.EmptyAccess(), domain.NewPermissionFetchError("file "+file.ID+" has no drive reference", nil)
	}
	return p.permissionsWith(ctx, client, driveID, file.ID)
}

func (p *Provider) permissionsWith(ctx context.Context, client *Client, driveID, itemID string) (domain.ExternalAccess, error) {
	var perms []graphPermission
	err := p.retry.Retry(ctx, "permissions "+itemID, func(ctx context.Context) error {
		perms = perms[:0]
		next := fmt.Sprintf("/drives/%s/items/%s/permissions", driveID, itemID)
		for next != "" {
			var page permissionPage
			if err := client.GetJSON(ctx, next, &page); err != nil {
				if domain.CategoryIs(err, domain.CategoryDownload) {
					return domain.NewPermissionFetchError("permissions "+itemID, err)
				}
				return err
			}
			perms = append(perms, page.Value...)
			next = page.NextLink
		}
		return nil
	})
	if err != nil {
		return domain.EmptyAccess(), err
	}
	return permissionsToAccess(perms), nil
}

// permissionsToAccess maps Graph permissions to an access descriptor.
// Anonymous and organization-wide sharing links are treated as public;
// direct grants contribute user emails and group IDs.
func permissionsToAccess(perms []graphPermission) domain.ExternalAccess {
	var emails, groups []string
	public := false

	collect := func(set identitySet) {
		if set.User != nil && set.User.Email != "" {
			emails = append(emails, set.User.Email)
		}
		if set.Group != nil && set.Group.ID != "" {
			groups = append(groups, set.Group.ID)
		}
	}

	for _, perm := range perms {
		if perm.Link != nil && (perm.Link.Scope == "anonymous" || perm.Link.Scope == "organization") {
			public = true
		}
		if perm.GrantedToV2 != nil {
			collect(*perm.GrantedToV2)
		}
		for _, set := range perm.GrantedToIdentitiesV2 {
			collect(set)
		}
	}

	if public {
		access := domain.PublicAccess()
		if len(emails) > 0 || len(groups) > 0 {
			access = domain.MergeAccess(access, domain.AccessForUsersAndGroups(emails, groups))
		}
		return access
	}
	return domain.AccessForUsersAndGroups(emails, groups)
}

// itemToMetadata converts a Graph drive item into provider-neutral
// metadata.
func itemToMetadata(driveID string, item driveItem) domain.FileMetadata {
	meta := domain.FileMetadata{
		ID:     item.ID,
		Name:   item.Name,
		Size:   item.Size,
		WebURL: item.WebURL,
		Extra:  map[string]any{"drive_id": driveID},
	}
	if item.File != nil {
		meta.MIMEType = item.File.MimeType
		if item.File.Hashes != nil {
			meta.ContentHash = item.File.Hashes.QuickXorHash
		}
	}
	if item.ParentReference != nil {
		meta.ParentID = item.ParentReference.ID
	}
	if !item.LastModifiedDateTime.IsZero() {
		at := item.LastModifiedDateTime
		meta.ModifiedAt = &at
	}
	return meta
}

func driveIDOf(file domain.FileMetadata) string {
	if id, ok := file.Extra["drive_id"].(string); ok {
		return id
	}
	return ""
}

// GetChanges streams change events from the stored delta link.
func (p *Provider) GetChanges(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.FileChange, <-chan error) {
	changes := make(chan domain.FileChange)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		cp, ok := checkpoint.(*domain.SharePointCheckpoint)
		if !ok {
			errs <- domain.NewCheckpointError(
				fmt.Sprintf("expected sharepoint checkpoint, got %s", checkpoint.Type()), nil)
			return
		}
		if cp.DeltaLink == "" {
			errs <- domain.NewCheckpointError("no delta link: full sync required first", nil)
			return
		}

		_, client, err := p.session(ctx, cfg)
		if err != nil {
			errs <- err
			return
		}

		err = p.walkDelta(ctx, client, cp, cp.DeltaLink, "", func(change domain.FileChange) error {
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

// walkDelta pages through a delta listing, converting items to change
// events and keeping the checkpoint's delta link current.
func (p *Provider) walkDelta(ctx context.Context, client *Client, cp *domain.SharePointCheckpoint, startURL, driveID string, emit func(domain.FileChange) error) error {
	next := startURL
	for next != "" {
		var page deltaPage
		if err := p.getJSON(ctx, client, next, &page); err != nil {
			return err
		}

		for _, item := range page.Value {
			if item.Folder != nil && item.Deleted == nil {
				continue
			}
			fc := domain.FileChange{ID: item.ID}
			switch {
			case item.Deleted != nil:
				fc.Action = domain.ActionDelete
			default:
				meta := itemToMetadata(resolveDriveID(driveID, item), item)
				fc.Metadata = &meta
				if cp.RetrievedIDs.Has(item.ID) {
					fc.Action = domain.ActionUpdate
				} else {
					fc.Action = domain.ActionCreate
				}
			}
			if err := emit(fc); err != nil {
				return err
			}
		}

		switch {
		case page.NextLink != "":
			next = page.NextLink
			cp.Lock()
			cp.DeltaLink = next
			cp.Unlock()
		case page.DeltaLink != "":
			cp.Lock()
			cp.DeltaLink = page.DeltaLink
			cp.Unlock()
			return nil
		default:
			return nil
		}
	}
	return nil
}

func resolveDriveID(driveID string, item driveItem) string {
	if item.ParentReference != nil && item.ParentReference.DriveID != "" {
		return item.ParentReference.DriveID
	}
	return driveID
}

// Sync is the composed entry point: site discovery and FIFO crawl on
// the first pass, delta replay afterwards. The checkpoint is mutated
// only for items fully handed to the consumer.
func (p *Provider) Sync(ctx context.Context, cfg domain.ProviderConfig, checkpoint domain.Checkpoint) (<-chan domain.SyncItem, <-chan error) {
	items := make(chan domain.SyncItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		cp, ok := checkpoint.(*domain.SharePointCheckpoint)
		if !ok {
			errs <- domain.NewCheckpointError(
				fmt.Sprintf("expected sharepoint checkpoint, got %s", checkpoint.Type()), nil)
			return
		}

		parsed, client, err := p.session(ctx, cfg)
		if err != nil {
			errs <- err
			return
		}

		session := &graphSession{provider: p, client: client, cfg: parsed, cp: cp, items: items, errs: errs}
		if err := session.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs <- err
		}
	}()

	return items, errs
}

// graphSession carries the state of one sync pass.
type graphSession struct {
	provider *Provider
	client   *Client
	cfg      *Config
	cp       *domain.SharePointCheckpoint
	items    chan<- domain.SyncItem
	errs     chan<- error

	// incremental marks a delta replay, where a deduped ID means an
	// update to re-emit rather than a duplicate to suppress.
	incremental bool
}

// run crawls the site/drive queues, resuming from any in-flight
// pointers, or replays the delta link when the crawl already finished.
func (s *graphSession) run(ctx context.Context) error {
	fresh := s.cp.CurrentSite == nil && len(s.cp.SitesToProcess) == 0 &&
		s.cp.CurrentDrive == "" && len(s.cp.DrivesToProcess) == 0

	if fresh && s.cp.DeltaLink != "" {
		return s.replayDelta(ctx)
	}
	if fresh {
		if err := s.discoverSites(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// An in-flight site survives restarts; only pop when none.
		s.cp.Lock()
		site := s.cp.CurrentSite
		if site == nil {
			site = s.cp.PopNextSite()
		}
		s.cp.Unlock()
		if site == nil {
			return nil
		}

		if err := s.crawlSite(ctx, site); err != nil {
			return err
		}
		s.cp.Lock()
		s.cp.CurrentSite = nil
		s.cp.Unlock()
	}
}

// discoverSites fills the site queue from a Graph site search.
func (s *graphSession) discoverSites(ctx context.Context) error {
	next := "/sites?search=" + url.QueryEscape(s.cfg.SiteSearch)
	for next != "" {
		var page sitePage
		if err := s.provider.getJSON(ctx, s.client, next, &page); err != nil {
			return err
		}
		s.cp.Lock()
		for _, site := range page.Value {
			name := site.DisplayName
			if name == "" {
				name = site.Name
			}
			s.cp.EnqueueSites(domain.SiteDescriptor{ID: site.ID, Name: name, WebURL: site.WebURL})
		}
		s.cp.Unlock()
		next = page.NextLink
	}
	logger.Info("Discovered %d sharepoint sites", len(s.cp.SitesToProcess))
	return nil
}

// crawlSite walks one site's drives in FIFO order.
func (s *graphSession) crawlSite(ctx context.Context, site *domain.SiteDescriptor) error {
	if len(s.cp.DrivesToProcess) == 0 && s.cp.CurrentDrive == "" {
		if err := s.discoverDrives(ctx, site); err != nil {
			return err
		}
	}

	for {
		s.cp.Lock()
		driveID := s.cp.CurrentDrive
		if driveID == "" {
			var ok bool
			driveID, ok = s.cp.PopNextDrive()
			if !ok {
				s.cp.Unlock()
				return nil
			}
			// A freshly popped drive starts a fresh delta crawl.
			s.cp.DeltaLink = ""
		}
		s.cp.Unlock()

		if err := s.crawlDrive(ctx, driveID); err != nil {
			return err
		}

		s.cp.Lock()
		last := len(s.cp.DrivesToProcess) == 0 && len(s.cp.SitesToProcess) == 0
		s.cp.CurrentDrive = ""
		if !last {
			s.cp.DeltaLink = ""
		}
		s.cp.Unlock()
		if last {
			// Last drive overall: keep its delta link so the next
			// session replays changes instead of recrawling.
			return nil
		}
	}
}

// discoverDrives fills the drive queue for a site.
func (s *graphSession) discoverDrives(ctx context.Context, site *domain.SiteDescriptor) error {
	next := fmt.Sprintf("/sites/%s/drives", site.ID)
	for next != "" {
		var page drivePage
		if err := s.provider.getJSON(ctx, s.client, next, &page); err != nil {
			return err
		}
		s.cp.Lock()
		for _, d := range page.Value {
			s.cp.EnqueueDrives(d.ID)
		}
		s.cp.Unlock()
		next = page.NextLink
	}
	logger.Debug("Site %s has %d drives", site.Name, len(s.cp.DrivesToProcess))
	return nil
}

// crawlDrive delta-walks one drive from the checkpoint's stored link,
// or from the root when starting fresh.
func (s *graphSession) crawlDrive(ctx context.Context, driveID string) error {
	start := s.cp.DeltaLink
	if start == "" {
		start = fmt.Sprintf("/drives/%s/root/delta", driveID)
	}
	return s.provider.walkDelta(ctx, s.client, s.cp, start, driveID, func(change domain.FileChange) error {
		return s.handleChange(ctx, change)
	})
}

// replayDelta replays the delta link left by the completed crawl.
func (s *graphSession) replayDelta(ctx context.Context) error {
	s.incremental = true
	return s.provider.walkDelta(ctx, s.client, s.cp, s.cp.DeltaLink, "", func(change domain.FileChange) error {
		return s.handleChange(ctx, change)
	})
}

// handleChange runs one change through the download pipeline and hands
// the result to the consumer. Dedup is committed only after handoff.
func (s *graphSession) handleChange(ctx context.Context, change domain.FileChange) error {
	if change.Action == domain.ActionDelete {
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
	}

	meta := change.Metadata
	if meta == nil {
		return nil
	}
	if !s.incremental && s.cp.RetrievedIDs.Has(meta.ID) {
		return nil
	}

	item, err := s.fetch(ctx, *meta)
	if err != nil {
		if domain.IsFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if domain.CategoryIs(err, domain.CategoryFileTooLarge) {
			logger.Debug("Skipping oversized file %s (%s)", meta.Name, meta.ID)
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
	s.cp.MarkFileRetrieved(meta.ID)
	s.cp.Unlock()
	return nil
}

// fetch downloads content and attaches current permissions, falling
// back to empty access when the permission fetch exhausts retries.
func (s *graphSession) fetch(ctx context.Context, meta domain.FileMetadata) (*domain.DownloadedFile, error) {
	driveID := driveIDOf(meta)
	downloaded, err := s.provider.downloadWith(ctx, s.client, s.cfg, driveID, meta)
	if err != nil {
		return nil, err
	}

	access, err := s.provider.permissionsWith(ctx, s.client, driveID, meta.ID)
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
