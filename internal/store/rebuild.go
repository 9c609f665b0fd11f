package store

import (
	"fmt"
	"time"

	"lyricreel/internal/history"
	"lyricreel/internal/projection"
)

// RebuildState reconstructs project state as of until (nil for now) by
// folding events over the default state or, in snapshot mode, over the
// latest snapshot taken at or before until. Only events with timestamp
// <= until are applied.
//
// Snapshot mode replays the events whose id is above the snapshot's event
// id. When an event appended after the snapshot is timestamped before the
// snapshot's as-of time, the snapshot is bypassed and every event is
// replayed, so both modes always yield the same state.
func (s *Store) RebuildState(projectID string, until *time.Time) (projection.State, error) {
	r, err := s.replay(projectID, until, s.replayMode)
	if err != nil {
		return nil, err
	}
	return r.state, nil
}

// RebuildStateWith is RebuildState with an explicit replay mode.
func (s *Store) RebuildStateWith(projectID string, until *time.Time, mode ReplayMode) (projection.State, error) {
	r, err := s.replay(projectID, until, mode)
	if err != nil {
		return nil, err
	}
	return r.state, nil
}

type replayResult struct {
	state    projection.State
	lastID   int64 // highest event id reflected in state
	replayed int
	snapshot int64 // id of the snapshot used as base, 0 for none
}

func (s *Store) replay(projectID string, until *time.Time, mode ReplayMode) (replayResult, error) {
	start := time.Now()
	r := replayResult{state: projection.DefaultState(projectID)}

	if mode != ReplayFull {
		snap, err := s.LatestSnapshotAt(projectID, until)
		if err != nil {
			return replayResult{}, fmt.Errorf("load snapshot: %w", err)
		}
		if snap != nil {
			stale, err := s.hasBackdatedEvents(projectID, snap)
			if err != nil {
				return replayResult{}, err
			}
			if stale {
				s.log.Warn("snapshot predates backdated events, replaying in full",
					"project_id", projectID, "snapshot_id", snap.ID, "event_id", snap.EventID)
				snap = nil
			}
		}
		if snap != nil {
			r.state = snap.State
			r.lastID = snap.EventID
			r.snapshot = snap.ID
		}
	}

	events, err := s.GetEvents(projectID, Query{Until: until, AfterID: r.lastID})
	if err != nil {
		return replayResult{}, fmt.Errorf("load events: %w", err)
	}

	r.state = projection.Fold(r.state, events)
	r.replayed = len(events)
	for _, e := range events {
		if e.ID > r.lastID {
			r.lastID = e.ID
		}
	}

	elapsed := time.Since(start)
	s.metrics.ObserveReplay(elapsed, r.replayed)
	s.log.Debug("state rebuilt",
		"project_id", projectID,
		"mode", string(mode),
		"snapshot_id", r.snapshot,
		"events", r.replayed,
		"duration", elapsed,
	)
	return r, nil
}

// hasBackdatedEvents reports whether an event appended after snap sorts
// before the last event snap folded.
func (s *Store) hasBackdatedEvents(projectID string, snap *Snapshot) (bool, error) {
	var found bool
	err := s.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE project_id = ? AND id > ? AND timestamp < ?
		)`, projectID, snap.EventID, history.FormatTime(snap.Timestamp),
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check snapshot ordering: %w", err)
	}
	return found, nil
}

// SnapshotNow rebuilds the project's current state and stores it as a
// snapshot tagged with the last event it reflects.
func (s *Store) SnapshotNow(projectID string) (*Snapshot, error) {
	r, err := s.replay(projectID, nil, s.replayMode)
	if err != nil {
		return nil, fmt.Errorf("rebuild for snapshot: %w", err)
	}

	id, err := s.CreateSnapshot(projectID, r.lastID, r.state)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:        id,
		ProjectID: projectID,
		EventID:   r.lastID,
		State:     r.state,
	}, nil
}
