package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned when an event cannot be constructed or stored.
var ErrInvalidEvent = errors.New("invalid event")

// Event is an immutable fact about something that happened to a project.
type Event struct {
	// ID is assigned by the store on append. Zero before persistence.
	ID int64 `json:"id,omitempty" yaml:"id,omitempty"`
	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id" yaml:"project_id"`
	// Type identifies the kind of event.
	Type EventType `json:"event_type" yaml:"event_type"`
	// Timestamp is when the event happened, UTC at microsecond precision.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// User attributes the event. Empty means system.
	User string `json:"user" yaml:"user"`
	// Data is the type-specific payload.
	Data map[string]any `json:"data" yaml:"data"`
	// Metadata carries side-channel flags that are not part of the checksum.
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
	// Checksum is the hex SHA-256 of the canonical event content.
	Checksum string `json:"checksum" yaml:"checksum"`
}

// NewEvent builds a sealed event stamped with the current time.
func NewEvent(projectID string, eventType EventType, user string, data, metadata map[string]any) (*Event, error) {
	e := &Event{
		ProjectID: projectID,
		Type:      eventType,
		User:      user,
		Data:      data,
		Metadata:  metadata,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := e.Seal(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the fields the store requires.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidEvent)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Seal assigns a timestamp when missing, normalizes it, and computes the checksum.
func (e *Event) Seal() error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = NormalizeTime(e.Timestamp)
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	sum, err := e.ComputeChecksum()
	if err != nil {
		return err
	}
	e.Checksum = sum
	return nil
}

// ComputeChecksum hashes project id, type, timestamp, user and data.
// Metadata and ID are excluded.
func (e *Event) ComputeChecksum() (string, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	content := map[string]any{
		"project_id": e.ProjectID,
		"event_type": string(e.Type),
		"timestamp":  FormatTime(e.Timestamp),
		"user":       e.User,
		"data":       data,
	}
	encoded, err := canonicalJSON(content)
	if err != nil {
		return "", fmt.Errorf("%w: encode checksum content: %v", ErrInvalidEvent, err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports whether the stored checksum matches the content.
func (e *Event) VerifyChecksum() (bool, error) {
	sum, err := e.ComputeChecksum()
	if err != nil {
		return false, err
	}
	return sum == e.Checksum, nil
}

// IsRestorePoint reports whether the event is tagged as a named restore point.
func (e *Event) IsRestorePoint() bool {
	v, ok := e.Metadata["is_restore_point"].(bool)
	return ok && v
}

// DataString returns a string payload field, or "" when absent or not a string.
func (e *Event) DataString(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// canonicalJSON encodes v with sorted map keys and without HTML escaping.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
