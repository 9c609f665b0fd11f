package history

import (
	"fmt"
	"strings"
	"time"
)

// RestorePoint is a named marker in a project's history.
type RestorePoint struct {
	ID          int64     `json:"id" yaml:"id"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
}

// NewRestorePointEvent builds the project_saved event that marks a restore point.
func NewRestorePointEvent(projectID, name, description string) (*Event, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: restore point name is required", ErrInvalidEvent)
	}
	return NewEvent(projectID, ProjectSaved, "",
		map[string]any{
			"restore_point": true,
			"name":          name,
			"description":   description,
		},
		map[string]any{"is_restore_point": true},
	)
}

// RestorePointFromEvent extracts a restore point, reporting false when e is not one.
func RestorePointFromEvent(e Event) (RestorePoint, bool) {
	if e.Type != ProjectSaved || !e.IsRestorePoint() {
		return RestorePoint{}, false
	}
	return RestorePoint{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		Name:        e.DataString("name"),
		Description: e.DataString("description"),
	}, true
}
