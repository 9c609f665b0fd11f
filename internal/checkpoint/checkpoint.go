// Package checkpoint takes periodic state snapshots while events are appended.
//
// A Checkpointer sits in front of the event store. Every Policy.Interval
// inserted events for a project it rebuilds the project's state, stores it as
// a snapshot and prunes old snapshots down to Policy.Keep. Snapshots are a
// cache: a failed checkpoint is logged and never fails the append.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"lyricreel/internal/history"
	"lyricreel/internal/logging"
	"lyricreel/internal/store"
)

// EventStore is the part of the store the checkpointer needs.
type EventStore interface {
	Append(e *history.Event) (int64, bool, error)
	SnapshotNow(projectID string) (*store.Snapshot, error)
	LatestSnapshotAt(projectID string, until *time.Time) (*store.Snapshot, error)
	PruneSnapshots(projectID string, keep int) (int64, error)
	CountEvents(projectID string, afterID int64) (int64, error)
}

// Policy controls when snapshots are taken and how many are retained.
type Policy struct {
	// Interval is the number of inserted events between snapshots.
	// Zero or less disables automatic snapshots.
	Interval int
	// Keep is how many snapshots to retain per project after each
	// checkpoint. Zero or less keeps all of them.
	Keep int
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{Interval: 100, Keep: 5}
}

// Checkpointer appends events and snapshots projects on a fixed cadence.
type Checkpointer struct {
	store  EventStore
	policy Policy
	log    *logging.Logger

	mu      sync.Mutex
	pending map[string]int // events appended since the last snapshot
}

// New returns a Checkpointer over s. A nil logger discards output.
func New(s EventStore, policy Policy, log *logging.Logger) *Checkpointer {
	if log == nil {
		log = logging.Discard()
	}
	return &Checkpointer{
		store:   s,
		policy:  policy,
		log:     log.WithComponent("checkpoint"),
		pending: make(map[string]int),
	}
}

// Policy returns the active policy.
func (c *Checkpointer) Policy() Policy {
	return c.policy
}

// Record appends e and takes a snapshot when the project has reached the
// policy interval. Duplicate appends do not count toward the interval.
func (c *Checkpointer) Record(e *history.Event) (id int64, inserted bool, err error) {
	id, inserted, err = c.store.Append(e)
	if err != nil || !inserted || c.policy.Interval <= 0 {
		return id, inserted, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.pendingLocked(e.ProjectID)
	if err != nil {
		c.log.Warn("cannot count events since snapshot", "project_id", e.ProjectID, "error", err)
		return id, inserted, nil
	}
	n++
	c.pending[e.ProjectID] = n

	if n >= c.policy.Interval {
		if _, err := c.checkpointLocked(e.ProjectID); err != nil {
			c.log.Warn("automatic snapshot failed", "project_id", e.ProjectID, "error", err)
		}
	}
	return id, inserted, nil
}

// pendingLocked returns the number of events since the last snapshot,
// consulting the store the first time a project is seen. The count excludes
// the event just appended.
func (c *Checkpointer) pendingLocked(projectID string) (int, error) {
	if n, ok := c.pending[projectID]; ok {
		return n, nil
	}

	var after int64
	snap, err := c.store.LatestSnapshotAt(projectID, nil)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		after = snap.EventID
	}

	count, err := c.store.CountEvents(projectID, after)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		count--
	}
	return int(count), nil
}

// Checkpoint snapshots the project now, regardless of the interval.
func (c *Checkpointer) Checkpoint(projectID string) (*store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointLocked(projectID)
}

func (c *Checkpointer) checkpointLocked(projectID string) (*store.Snapshot, error) {
	snap, err := c.store.SnapshotNow(projectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot project %s: %w", projectID, err)
	}
	c.pending[projectID] = 0

	if c.policy.Keep > 0 {
		if _, err := c.store.PruneSnapshots(projectID, c.policy.Keep); err != nil {
			return snap, fmt.Errorf("prune snapshots for %s: %w", projectID, err)
		}
	}

	c.log.Debug("checkpoint taken", "project_id", projectID, "snapshot_id", snap.ID, "event_id", snap.EventID)
	return snap, nil
}
