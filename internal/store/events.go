package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lyricreel/internal/history"
)

const eventColumns = "id, project_id, event_type, timestamp, user, data_compressed, metadata, checksum"

// Append stores e. A missing timestamp is set to now and the checksum is
// always recomputed from the event content. When an identical event
// (same project and checksum) already exists the call is a no-op that
// returns the stored row's id with inserted false. On success e.ID is set.
func (s *Store) Append(e *history.Event) (id int64, inserted bool, err error) {
	if e == nil {
		return 0, false, fmt.Errorf("%w: nil event", history.ErrInvalidEvent)
	}
	if err := e.Validate(); err != nil {
		return 0, false, err
	}
	if err := s.validator.Validate(e.Type, e.Data); err != nil {
		return 0, false, err
	}
	if err := e.Seal(); err != nil {
		return 0, false, err
	}

	data, err := compressJSON(e.Data)
	if err != nil {
		return 0, false, fmt.Errorf("compress event data: %w", err)
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return 0, false, err
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO events
		(project_id, event_type, timestamp, user, data_compressed, metadata, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, string(e.Type), history.FormatTime(e.Timestamp), e.User,
		data, meta, e.Checksum, history.FormatTime(time.Now()),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert event: %w", err)
	}

	if affected == 0 {
		err := s.db.QueryRow(
			"SELECT id FROM events WHERE project_id = ? AND checksum = ?",
			e.ProjectID, e.Checksum,
		).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("lookup duplicate event: %w", err)
		}
		e.ID = id
		s.metrics.RecordAppend(id, false)
		s.log.Debug("duplicate event ignored",
			"project_id", e.ProjectID, "event_type", string(e.Type), "event_id", id)
		return id, false, nil
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("get event id: %w", err)
	}
	e.ID = id
	s.metrics.RecordAppend(id, true)
	return id, true, nil
}

// GetEvents returns the project's events matching q, ordered by timestamp
// then id. Rows whose payload cannot be decoded are skipped and logged.
// Limit caps the rows read, so a page may come back short when it
// contained corrupt rows.
func (s *Store) GetEvents(projectID string, q Query) ([]history.Event, error) {
	var (
		where = []string{"project_id = ?"}
		args  = []any{projectID}
	)

	if q.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, sinceBound(*q.Since))
	}
	if q.Until != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, history.FormatTime(*q.Until))
	}
	if len(q.Types) > 0 {
		marks := make([]string, len(q.Types))
		for i, t := range q.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(marks, ", ")+")")
	}
	if q.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, q.AfterID)
	}

	query := "SELECT " + eventColumns + " FROM events WHERE " +
		strings.Join(where, " AND ") + " ORDER BY timestamp ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// sinceBound formats a lower bound so that an event stored at microsecond
// precision compares >= it exactly when the event is not before t.
func sinceBound(t time.Time) string {
	n := history.NormalizeTime(t)
	if n.Before(t) {
		n = n.Add(time.Microsecond)
	}
	return history.FormatTime(n)
}

// rawEvent is an events row before its payload is decoded.
type rawEvent struct {
	id        int64
	projectID string
	eventType string
	timestamp string
	user      string
	data      []byte
	metadata  string
	checksum  string
}

func scanRawEvent(rows *sql.Rows) (rawEvent, error) {
	var r rawEvent
	err := rows.Scan(&r.id, &r.projectID, &r.eventType, &r.timestamp, &r.user,
		&r.data, &r.metadata, &r.checksum)
	return r, err
}

// decode turns the row into an event. Unknown event types are kept as-is.
func (r rawEvent) decode() (history.Event, error) {
	ts, err := history.ParseTime(r.timestamp)
	if err != nil {
		return history.Event{}, fmt.Errorf("parse timestamp: %w", err)
	}

	var data map[string]any
	if err := decompressJSON(r.data, &data); err != nil {
		return history.Event{}, fmt.Errorf("decode data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}

	meta, err := decodeMetadata(r.metadata)
	if err != nil {
		return history.Event{}, err
	}

	return history.Event{
		ID:        r.id,
		ProjectID: r.projectID,
		Type:      history.EventType(r.eventType),
		Timestamp: ts,
		User:      r.user,
		Data:      data,
		Metadata:  meta,
		Checksum:  r.checksum,
	}, nil
}

func (s *Store) scanEvents(rows *sql.Rows) ([]history.Event, error) {
	events := []history.Event{}
	for rows.Next() {
		raw, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e, err := raw.decode()
		if err != nil {
			s.metrics.RecordCorruptRow()
			s.log.Warn("skipping corrupt event",
				"project_id", raw.projectID, "event_id", raw.id, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastEventID returns the highest event id stored for the project, or 0.
func (s *Store) LastEventID(projectID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(id), 0) FROM events WHERE project_id = ?", projectID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get last event id: %w", err)
	}
	return id, nil
}

// CountEvents returns how many events the project has with id > afterID.
func (s *Store) CountEvents(projectID string, afterID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM events WHERE project_id = ? AND id > ?", projectID, afterID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ListProjects summarizes every project with at least one event, most
// recently active first.
func (s *Store) ListProjects() ([]ProjectInfo, error) {
	rows, err := s.db.Query(`
		SELECT project_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM events
		GROUP BY project_id
		ORDER BY MAX(timestamp) DESC, project_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []ProjectInfo{}
	for rows.Next() {
		var (
			info        ProjectInfo
			first, last string
		)
		if err := rows.Scan(&info.ProjectID, &info.EventCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if info.FirstEvent, err = history.ParseTime(first); err != nil {
			return nil, fmt.Errorf("parse first event time for %s: %w", info.ProjectID, err)
		}
		if info.LastEvent, err = history.ParseTime(last); err != nil {
			return nil, fmt.Errorf("parse last event time for %s: %w", info.ProjectID, err)
		}
		projects = append(projects, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}
