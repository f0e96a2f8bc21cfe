package domain

// SiteDescriptor identifies one SharePoint site in the crawl queue.
type SiteDescriptor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

// SharePointCheckpoint is the FIFO-queue checkpoint for site/drive
// hierarchies. Sites are dequeued in insertion order; within the
// current site, drives are dequeued the same way.
//
// The "current" pointers mean in-flight, not consumed: a session that
// crashes before durably processing the popped element must retry it
// from the pointer on restart. The orchestrator re-checkpoints only
// after the corresponding items are durably processed, so a replayed
// pop never loses an element.
type SharePointCheckpoint struct {
	CheckpointBase

	// SitesToProcess is the ordered queue of sites not yet started.
	SitesToProcess []SiteDescriptor `json:"sites_to_process"`

	// CurrentSite is the in-flight site, nil when none is popped.
	CurrentSite *SiteDescriptor `json:"current_site"`

	// DrivesToProcess is the ordered queue of drive IDs within the
	// current site.
	DrivesToProcess []string `json:"drives_to_process"`

	// CurrentDrive is the in-flight drive ID, empty when none.
	CurrentDrive string `json:"current_drive"`

	// DeltaLink is the Graph delta token for incremental runs.
	DeltaLink string `json:"delta_link"`

	// RetrievedIDs is the dedup set of item IDs already emitted.
	RetrievedIDs IDSet `json:"retrieved_ids"`
}

// NewSharePointCheckpoint creates a fresh SharePoint checkpoint with
// empty queues.
func NewSharePointCheckpoint() *SharePointCheckpoint {
	return &SharePointCheckpoint{
		CheckpointBase:  CheckpointBase{HasMore: true},
		SitesToProcess:  []SiteDescriptor{},
		DrivesToProcess: []string{},
		RetrievedIDs:    NewIDSet(),
	}
}

// Type returns the SharePoint discriminator.
func (c *SharePointCheckpoint) Type() string { return CheckpointTypeSharePoint }

// ensureInitialised repairs nil collections after deserialisation.
func (c *SharePointCheckpoint) ensureInitialised() {
	if c.SitesToProcess == nil {
		c.SitesToProcess = []SiteDescriptor{}
	}
	if c.DrivesToProcess == nil {
		c.DrivesToProcess = []string{}
	}
	if c.RetrievedIDs == nil {
		c.RetrievedIDs = NewIDSet()
	}
}

// EnqueueSites appends sites to the crawl queue in order.
func (c *SharePointCheckpoint) EnqueueSites(sites ...SiteDescriptor) {
	c.SitesToProcess = append(c.SitesToProcess, sites...)
}

// EnqueueDrives appends drive IDs for the current site in order.
func (c *SharePointCheckpoint) EnqueueDrives(driveIDs ...string) {
	c.DrivesToProcess = append(c.DrivesToProcess, driveIDs...)
}

// PopNextSite dequeues the next site in FIFO order, recording it as the
// in-flight site. Returns nil when the queue is empty, clearing the
// pointer.
func (c *SharePointCheckpoint) PopNextSite() *SiteDescriptor {
	if len(c.SitesToProcess) == 0 {
		c.CurrentSite = nil
		return nil
	}
	site := c.SitesToProcess[0]
	c.SitesToProcess = c.SitesToProcess[1:]
	c.CurrentSite = &site
	c.DrivesToProcess = []string{}
	c.CurrentDrive = ""
	return &site
}

// PopNextDrive dequeues the next drive ID in FIFO order, recording it
// as the in-flight drive. Returns false when the queue is empty.
func (c *SharePointCheckpoint) PopNextDrive() (string, bool) {
	if len(c.DrivesToProcess) == 0 {
		c.CurrentDrive = ""
		return "", false
	}
	id := c.DrivesToProcess[0]
	c.DrivesToProcess = c.DrivesToProcess[1:]
	c.CurrentDrive = id
	return id, true
}

// MarkFileRetrieved records an item ID in the dedup set. Returns true
// iff the ID was newly seen, incrementing DocumentsProcessed as a side
// effect.
func (c *SharePointCheckpoint) MarkFileRetrieved(id string) bool {
	if !c.RetrievedIDs.Add(id) {
		return false
	}
	c.DocumentsProcessed++
	return true
}
