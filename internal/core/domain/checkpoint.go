package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Checkpoint type discriminators stored in the persisted payload.
const (
	CheckpointTypeBase       = "Checkpoint"
	CheckpointTypeDrive      = "GoogleDriveCheckpoint"
	CheckpointTypeSharePoint = "SharePointCheckpoint"
)

// Checkpoint is durable progress state for one connector's sync
// history. The set of implementations is closed: CheckpointBase,
// DriveCheckpoint and SharePointCheckpoint.
//
// A checkpoint is exclusively owned by its active sync session and
// mutated in place as items are emitted.
type Checkpoint interface {
	// Type returns the discriminator identifying the concrete variant.
	Type() string

	// Base returns the shared progress fields for mutation by the
	// owning session.
	Base() *CheckpointBase
}

// CheckpointBase holds the progress fields shared by every variant.
// HasMore=false is the sole authoritative "sync session complete"
// signal. DocumentsProcessed only increases within a session.
type CheckpointBase struct {
	// mu serialises checkpoint writes against EncodeCheckpoint. The
	// provider goroutine mutates the checkpoint while the orchestrator
	// goroutine persists it, so every write must hold this lock.
	mu sync.Mutex

	HasMore            bool       `json:"has_more"`
	LastSyncStart      *time.Time `json:"last_sync_start"`
	ErrorCount         int        `json:"error_count"`
	DocumentsProcessed int        `json:"documents_processed"`
}

// Lock acquires the checkpoint's write lock.
func (c *CheckpointBase) Lock() { c.mu.Lock() }

// Unlock releases the checkpoint's write lock.
func (c *CheckpointBase) Unlock() { c.mu.Unlock() }

// NewCheckpoint creates a fresh base checkpoint.
func NewCheckpoint() *CheckpointBase {
	return &CheckpointBase{HasMore: true}
}

// Type returns the base discriminator.
func (c *CheckpointBase) Type() string { return CheckpointTypeBase }

// Base returns the shared progress fields.
func (c *CheckpointBase) Base() *CheckpointBase { return c }

// IDSet is a serialisable set of source identifiers.
type IDSet map[string]bool

// NewIDSet creates an empty set.
func NewIDSet() IDSet { return IDSet{} }

// Add inserts id and reports whether it was newly added.
func (s IDSet) Add(id string) bool {
	if s[id] {
		return false
	}
	s[id] = true
	return true
}

// Has reports whether id is present.
func (s IDSet) Has(id string) bool { return s[id] }

// Len returns the number of elements.
func (s IDSet) Len() int { return len(s) }

// checkpointEnvelope carries just the discriminator for dispatch.
type checkpointEnvelope struct {
	Type string `json:"_type"`
}

// EncodeCheckpoint serialises a checkpoint to its persisted payload,
// embedding the variant's type discriminator.
func EncodeCheckpoint(c Checkpoint) ([]byte, error) {
	// Snapshot under the write lock: the owning session may still be
	// mutating the checkpoint on another goroutine.
	base := c.Base()
	base.Lock()
	raw, err := json.Marshal(c)
	base.Unlock()
	if err != nil {
		return nil, NewCheckpointError("encode checkpoint", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, NewCheckpointError("encode checkpoint", err)
	}
	fields["_type"] = json.RawMessage(fmt.Sprintf("%q", c.Type()))
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, NewCheckpointError("encode checkpoint", err)
	}
	return data, nil
}

// DecodeCheckpoint deserialises a persisted payload into the correct
// variant, dispatching on the embedded type discriminator. A missing
// discriminator decodes as the base type; an unrecognised one is a
// checkpoint classification error.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var env checkpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewCheckpointError("decode checkpoint envelope", err)
	}

	switch env.Type {
	case "", CheckpointTypeBase:
		c := NewCheckpoint()
		if err := json.Unmarshal(data, c); err != nil {
			return nil, NewCheckpointError("decode base checkpoint", err)
		}
		return c, nil

	case CheckpointTypeDrive:
		c := NewDriveCheckpoint()
		if err := json.Unmarshal(data, c); err != nil {
			return nil, NewCheckpointError("decode drive checkpoint", err)
		}
		c.ensureInitialised()
		return c, nil

	case CheckpointTypeSharePoint:
		c := NewSharePointCheckpoint()
		if err := json.Unmarshal(data, c); err != nil {
			return nil, NewCheckpointError("decode sharepoint checkpoint", err)
		}
		c.ensureInitialised()
		return c, nil

	default:
		return nil, NewCheckpointError(fmt.Sprintf("unrecognised checkpoint type %q", env.Type), nil)
	}
}
