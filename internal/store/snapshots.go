package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lyricreel/internal/history"
	"lyricreel/internal/projection"
)

// epoch is the as-of time of a snapshot that folds no events.
var epoch = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// CreateSnapshot stores state as the fold of every project event with
// id <= eventID. An eventID <= 0 means no events were folded. The snapshot's
// timestamp is the latest timestamp among those events, so it can be used
// for any rebuild bounded at or after that time.
func (s *Store) CreateSnapshot(projectID string, eventID int64, state projection.State) (int64, error) {
	if projectID == "" {
		return 0, fmt.Errorf("%w: project id is required", history.ErrInvalidEvent)
	}
	if state == nil {
		return 0, fmt.Errorf("create snapshot: nil state")
	}

	asOf := history.FormatTime(epoch)
	var ref any
	if eventID > 0 {
		var owner string
		err := s.db.QueryRow("SELECT project_id FROM events WHERE id = ?", eventID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("create snapshot: event %d not found", eventID)
		}
		if err != nil {
			return 0, fmt.Errorf("lookup snapshot event: %w", err)
		}
		if owner != projectID {
			return 0, fmt.Errorf("create snapshot: event %d belongs to project %s", eventID, owner)
		}

		if err := s.db.QueryRow(
			"SELECT MAX(timestamp) FROM events WHERE project_id = ? AND id <= ?",
			projectID, eventID,
		).Scan(&asOf); err != nil {
			return 0, fmt.Errorf("get snapshot time: %w", err)
		}
		ref = eventID
	}

	blob, err := compressJSON(state)
	if err != nil {
		return 0, fmt.Errorf("compress snapshot state: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO snapshots (project_id, event_id, state_compressed, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		projectID, ref, blob, asOf, history.FormatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get snapshot id: %w", err)
	}

	s.metrics.RecordSnapshot()
	s.log.Info("snapshot created",
		"project_id", projectID, "snapshot_id", id, "event_id", eventID, "bytes", len(blob))
	return id, nil
}

// GetLatestSnapshot returns the state of the project's most advanced
// snapshot, or nil when there is none.
func (s *Store) GetLatestSnapshot(projectID string) (projection.State, error) {
	snap, err := s.LatestSnapshotAt(projectID, nil)
	if err != nil || snap == nil {
		return nil, err
	}
	return snap.State, nil
}

// LatestSnapshotAt returns the snapshot with the greatest timestamp at or
// before until, or nil when none qualifies. Ties go to the higher event id. A nil until means no bound.
// A snapshot that fails to decode is logged and treated as absent.
func (s *Store) LatestSnapshotAt(projectID string, until *time.Time) (*Snapshot, error) {
	query := `
		SELECT id, project_id, COALESCE(event_id, 0), state_compressed, timestamp, created_at
		FROM snapshots
		WHERE project_id = ?`
	args := []any{projectID}
	if until != nil {
		query += " AND timestamp <= ?"
		args = append(args, history.FormatTime(*until))
	}
	query += " ORDER BY timestamp DESC, COALESCE(event_id, 0) DESC, id DESC LIMIT 1"

	var (
		snap      Snapshot
		blob      []byte
		ts, added string
	)
	err := s.db.QueryRow(query, args...).Scan(
		&snap.ID, &snap.ProjectID, &snap.EventID, &blob, &ts, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	if err := snap.parseTimes(ts, added); err != nil {
		s.log.Warn("ignoring corrupt snapshot", "project_id", projectID, "snapshot_id", snap.ID, "error", err)
		return nil, nil
	}

	var state projection.State
	if err := decompressJSON(blob, &state); err != nil || state == nil {
		s.log.Warn("ignoring corrupt snapshot", "project_id", projectID, "snapshot_id", snap.ID, "error", err)
		return nil, nil
	}
	snap.State = state

	return &snap, nil
}

func (snap *Snapshot) parseTimes(ts, created string) error {
	var err error
	if snap.Timestamp, err = history.ParseTime(ts); err != nil {
		return err
	}
	if snap.CreatedAt, err = history.ParseTime(created); err != nil {
		return err
	}
	return nil
}

// ListSnapshots returns the project's snapshots oldest first, without state.
func (s *Store) ListSnapshots(projectID string) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, COALESCE(event_id, 0), timestamp, created_at
		FROM snapshots
		WHERE project_id = ?
		ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		var (
			snap        Snapshot
			ts, created string
		)
		if err := rows.Scan(&snap.ID, &snap.ProjectID, &snap.EventID, &ts, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := snap.parseTimes(ts, created); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", snap.ID, err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snapshots, nil
}

// PruneSnapshots deletes all but the keep most recently created snapshots
// of the project and returns how many were removed.
func (s *Store) PruneSnapshots(projectID string, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune snapshots: negative keep %d", keep)
	}

	res, err := s.db.Exec(`
		DELETE FROM snapshots
		WHERE project_id = ?
		AND id NOT IN (
			SELECT id FROM snapshots WHERE project_id = ? ORDER BY id DESC LIMIT ?
		)`, projectID, projectID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	if n > 0 {
		s.metrics.RecordPrunedSnapshots(n)
		s.log.Debug("snapshots pruned", "project_id", projectID, "removed", n, "kept", keep)
	}
	return n, nil
}
