// Package store provides SQLite-based storage for the lyricreel project history.
package store

import (
	"fmt"
	"strings"
	"time"

	"lyricreel/internal/history"
	"lyricreel/internal/projection"
)

// Snapshot is a cached materialization of project state.
type Snapshot struct {
	ID        int64            `json:"id" yaml:"id"`
	ProjectID string           `json:"project_id" yaml:"project_id"`
	EventID   int64            `json:"event_id" yaml:"event_id"`
	State     projection.State `json:"state,omitempty" yaml:"state,omitempty"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	CreatedAt time.Time        `json:"created_at" yaml:"created_at"`
}

// Query filters GetEvents. Zero values mean "no filter".
type Query struct {
	// Since and Until bound the timestamp range inclusively.
	Since *time.Time
	Until *time.Time
	// Types restricts results to the listed event types.
	Types []history.EventType
	// AfterID skips events whose id is less than or equal to it.
	AfterID int64
	// Limit caps the number of rows read.
	Limit int
}

// ProjectInfo summarizes a project present in the store.
type ProjectInfo struct {
	ProjectID  string    `json:"project_id" yaml:"project_id"`
	EventCount int64     `json:"event_count" yaml:"event_count"`
	FirstEvent time.Time `json:"first_event" yaml:"first_event"`
	LastEvent  time.Time `json:"last_event" yaml:"last_event"`
}

// VerifyReport lists the events of a project that failed integrity checks.
type VerifyReport struct {
	ProjectID   string  `json:"project_id" yaml:"project_id"`
	Checked     int     `json:"checked" yaml:"checked"`
	Mismatched  []int64 `json:"mismatched,omitempty" yaml:"mismatched,omitempty"`
	Undecodable []int64 `json:"undecodable,omitempty" yaml:"undecodable,omitempty"`
}

// OK reports whether every checked event passed.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatched) == 0 && len(r.Undecodable) == 0
}

// ReplayMode selects how RebuildState picks its starting point.
type ReplayMode string

const (
	// ReplaySnapshot starts from the latest usable snapshot and replays
	// only the events after it.
	ReplaySnapshot ReplayMode = "snapshot"
	// ReplayFull ignores snapshots and replays the whole log.
	ReplayFull ReplayMode = "full"
)

// ParseReplayMode converts a config string to a ReplayMode.
func ParseReplayMode(s string) (ReplayMode, error) {
	switch ReplayMode(strings.ToLower(strings.TrimSpace(s))) {
	case ReplaySnapshot, "":
		return ReplaySnapshot, nil
	case ReplayFull:
		return ReplayFull, nil
	default:
		return "", fmt.Errorf("unknown replay mode: %s", s)
	}
}
