package store

import (
	"fmt"

	"lyricreel/internal/history"
)

// GetProjectHistory returns one human-readable entry per event, in order.
func (s *Store) GetProjectHistory(projectID string) ([]history.Entry, error) {
	events, err := s.GetEvents(projectID, Query{})
	if err != nil {
		return nil, err
	}

	entries := make([]history.Entry, 0, len(events))
	for _, e := range events {
		entries = append(entries, history.NewEntry(e))
	}
	return entries, nil
}

// CreateRestorePoint appends a named project_saved marker and returns its
// event id.
func (s *Store) CreateRestorePoint(projectID, name, description string) (int64, error) {
	e, err := history.NewRestorePointEvent(projectID, name, description)
	if err != nil {
		return 0, err
	}

	id, _, err := s.Append(e)
	if err != nil {
		return 0, fmt.Errorf("append restore point: %w", err)
	}

	s.log.Info("restore point created", "project_id", projectID, "event_id", id, "name", name)
	return id, nil
}

// GetRestorePoints returns the project's restore points in chronological order.
func (s *Store) GetRestorePoints(projectID string) ([]history.RestorePoint, error) {
	events, err := s.GetEvents(projectID, Query{Types: []history.EventType{history.ProjectSaved}})
	if err != nil {
		return nil, err
	}

	points := []history.RestorePoint{}
	for _, e := range events {
		if rp, ok := history.RestorePointFromEvent(e); ok {
			points = append(points, rp)
		}
	}
	return points, nil
}
