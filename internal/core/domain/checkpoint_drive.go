package domain

import "time"

// SyncStage is a named phase in the Drive multi-phase crawl. Stages
// advance strictly forward through the fixed order; a provider may
// re-enter an earlier stage only for a different principal.
type SyncStage string

const (
	// StageStart is the initial stage before any crawling.
	StageStart SyncStage = "start"

	// StageUserDrive crawls each principal's personal drive.
	StageUserDrive SyncStage = "user_drive"

	// StageSharedDriveIDs discovers shared drive identifiers.
	StageSharedDriveIDs SyncStage = "shared_drive_ids"

	// StageSharedDriveFiles crawls files within shared drives.
	StageSharedDriveFiles SyncStage = "shared_drive_files"

	// StageFolderCrawl crawls explicitly configured folders.
	StageFolderCrawl SyncStage = "folder_crawl"

	// StageDone means every phase has completed.
	StageDone SyncStage = "done"
)

// stageOrder fixes the progression used to enforce forward-only
// transitions.
var stageOrder = map[SyncStage]int{
	StageStart:            0,
	StageUserDrive:        1,
	StageSharedDriveIDs:   2,
	StageSharedDriveFiles: 3,
	StageFolderCrawl:      4,
	StageDone:             5,
}

// Next returns the stage following s, or StageDone when already done.
func (s SyncStage) Next() SyncStage {
	switch s {
	case StageStart:
		return StageUserDrive
	case StageUserDrive:
		return StageSharedDriveIDs
	case StageSharedDriveIDs:
		return StageSharedDriveFiles
	case StageSharedDriveFiles:
		return StageFolderCrawl
	default:
		return StageDone
	}
}

// Before reports whether s precedes other in the fixed progression.
func (s SyncStage) Before(other SyncStage) bool {
	return stageOrder[s] < stageOrder[other]
}

// StageCompletion tracks one principal's progress through the staged
// crawl under service-account impersonation.
type StageCompletion struct {
	// Stage is the principal's current stage.
	Stage SyncStage `json:"stage"`

	// CompletedUntil is the watermark timestamp up to which this
	// principal's files have been seen.
	CompletedUntil time.Time `json:"completed_until"`

	// CurrentFolderID is the container being crawled, if any.
	CurrentFolderID string `json:"current_folder_id"`

	// NextPageToken resumes pagination within the current listing.
	NextPageToken string `json:"next_page_token"`

	// ProcessedFolderIDs are containers already fully crawled for this
	// principal.
	ProcessedFolderIDs IDSet `json:"processed_folder_ids"`
}

// DriveCheckpoint is the multi-stage checkpoint for Drive-like
// hierarchies: personal drives per principal, shared drives, then an
// explicit folder crawl, with a changes token for incremental runs.
type DriveCheckpoint struct {
	CheckpointBase

	// Stage is the connector-wide stage, derived from the least
	// advanced principal.
	Stage SyncStage `json:"stage"`

	// UserCompletions maps principal email to that principal's
	// stage-completion record.
	UserCompletions map[string]*StageCompletion `json:"user_completions"`

	// RetrievedIDs is the dedup set of item IDs already emitted. An ID
	// present here is never re-emitted as a create until invalidated.
	RetrievedIDs IDSet `json:"retrieved_ids"`

	// CrawledFolderIDs are folders already covered by the folder crawl.
	CrawledFolderIDs IDSet `json:"crawled_folder_ids"`

	// CachedDriveIDs are shared drive IDs discovered this session,
	// fetched once and reused across retries.
	CachedDriveIDs []string `json:"cached_drive_ids"`

	// CachedUserEmails are the principals to crawl, fetched once per
	// session and reused across retries.
	CachedUserEmails []string `json:"cached_user_emails"`

	// ChangesToken is the Drive changes API token for incremental runs
	// after the first full pass.
	ChangesToken string `json:"changes_token"`
}

// NewDriveCheckpoint creates a fresh Drive checkpoint at StageStart.
func NewDriveCheckpoint() *DriveCheckpoint {
	return &DriveCheckpoint{
		CheckpointBase:   CheckpointBase{HasMore: true},
		Stage:            StageStart,
		UserCompletions:  map[string]*StageCompletion{},
		RetrievedIDs:     NewIDSet(),
		CrawledFolderIDs: NewIDSet(),
		CachedDriveIDs:   []string{},
		CachedUserEmails: []string{},
	}
}

// Type returns the Drive discriminator.
func (c *DriveCheckpoint) Type() string { return CheckpointTypeDrive }

// ensureInitialised repairs nil collections after deserialisation.
func (c *DriveCheckpoint) ensureInitialised() {
	if c.UserCompletions == nil {
		c.UserCompletions = map[string]*StageCompletion{}
	}
	for email, sc := range c.UserCompletions {
		if sc == nil {
			c.UserCompletions[email] = &StageCompletion{Stage: StageStart, ProcessedFolderIDs: NewIDSet()}
			continue
		}
		if sc.ProcessedFolderIDs == nil {
			sc.ProcessedFolderIDs = NewIDSet()
		}
		if sc.Stage == "" {
			sc.Stage = StageStart
		}
	}
	if c.RetrievedIDs == nil {
		c.RetrievedIDs = NewIDSet()
	}
	if c.CrawledFolderIDs == nil {
		c.CrawledFolderIDs = NewIDSet()
	}
	if c.CachedDriveIDs == nil {
		c.CachedDriveIDs = []string{}
	}
	if c.CachedUserEmails == nil {
		c.CachedUserEmails = []string{}
	}
	if c.Stage == "" {
		c.Stage = StageStart
	}
}

// UserCompletion returns the stage-completion record for a principal,
// creating it at StageStart on first use. It never fails.
func (c *DriveCheckpoint) UserCompletion(email string) *StageCompletion {
	if sc, ok := c.UserCompletions[email]; ok {
		return sc
	}
	sc := &StageCompletion{Stage: StageStart, ProcessedFolderIDs: NewIDSet()}
	c.UserCompletions[email] = sc
	return sc
}

// AdvanceUserStage moves a principal to the next stage. Transitions are
// forward-only: a principal's own stage never regresses.
func (c *DriveCheckpoint) AdvanceUserStage(email string) SyncStage {
	sc := c.UserCompletion(email)
	next := sc.Stage.Next()
	if sc.Stage.Before(next) {
		sc.Stage = next
		sc.NextPageToken = ""
		sc.CurrentFolderID = ""
	}
	c.recomputeStage()
	return sc.Stage
}

// recomputeStage sets the connector-wide stage to the least advanced
// principal's stage, never moving backwards.
func (c *DriveCheckpoint) recomputeStage() {
	if len(c.UserCompletions) == 0 {
		return
	}
	least := StageDone
	for _, sc := range c.UserCompletions {
		if sc.Stage.Before(least) {
			least = sc.Stage
		}
	}
	if c.Stage.Before(least) {
		c.Stage = least
	}
}

// MarkFileRetrieved records an item ID in the dedup set. Returns true
// iff the ID was newly seen, incrementing DocumentsProcessed as a side
// effect.
func (c *DriveCheckpoint) MarkFileRetrieved(id string) bool {
	if !c.RetrievedIDs.Add(id) {
		return false
	}
	c.DocumentsProcessed++
	return true
}
