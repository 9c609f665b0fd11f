// Package history defines the project event model for lyricreel.
package history

import (
	"fmt"
	"strings"
)

// EventType identifies the kind of project event.
type EventType string

// Project lifecycle events.
const (
	// ProjectCreated records the creation of a project.
	ProjectCreated EventType = "project_created"
	// ProjectOpened records a project being opened in the editor.
	ProjectOpened EventType = "project_opened"
	// ProjectSaved records an explicit save. Restore points are saves tagged in metadata.
	ProjectSaved EventType = "project_saved"
	// ProjectClosed records a project being closed.
	ProjectClosed EventType = "project_closed"
)

// Scene events.
const (
	SceneAdded      EventType = "scene_added"
	SceneUpdated    EventType = "scene_updated"
	SceneDeleted    EventType = "scene_deleted"
	ScenesReordered EventType = "scenes_reordered"
)

// Prompt events.
const (
	PromptGenerated EventType = "prompt_generated"
	PromptEdited    EventType = "prompt_edited"
)

// Image events.
const (
	ImageGenerated EventType = "image_generated"
	ImageApproved  EventType = "image_approved"
	ImageRejected  EventType = "image_rejected"
)

// Audio events.
const (
	AudioAdded   EventType = "audio_added"
	AudioUpdated EventType = "audio_updated"
	AudioRemoved EventType = "audio_removed"
)

// Video events.
const (
	VideoRendered EventType = "video_rendered"
	VideoExported EventType = "video_exported"
)

// Settings events.
const (
	SettingsUpdated EventType = "settings_updated"
	ProviderChanged EventType = "provider_changed"
	ModelChanged    EventType = "model_changed"
)

var eventTypes = []EventType{
	ProjectCreated, ProjectOpened, ProjectSaved, ProjectClosed,
	SceneAdded, SceneUpdated, SceneDeleted, ScenesReordered,
	PromptGenerated, PromptEdited,
	ImageGenerated, ImageApproved, ImageRejected,
	AudioAdded, AudioUpdated, AudioRemoved,
	VideoRendered, VideoExported,
	SettingsUpdated, ProviderChanged, ModelChanged,
}

var knownTypes = func() map[EventType]bool {
	m := make(map[EventType]bool, len(eventTypes))
	for _, t := range eventTypes {
		m[t] = true
	}
	return m
}()

// EventTypes returns every event type in declaration order.
func EventTypes() []EventType {
	return append([]EventType(nil), eventTypes...)
}

// IsValid reports whether t belongs to the closed enumeration.
func (t EventType) IsValid() bool {
	return knownTypes[t]
}

func (t EventType) String() string {
	return string(t)
}

// ParseEventType converts a string into a known event type.
// Matching is case-insensitive and accepts dashes for underscores.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, s)
	}
	return t, nil
}
