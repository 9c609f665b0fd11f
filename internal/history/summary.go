package history

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Entry is a human-readable line of project history.
type Entry struct {
	ID        int64     `json:"id" yaml:"id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Type      EventType `json:"event_type" yaml:"event_type"`
	User      string    `json:"user" yaml:"user"`
	Summary   string    `json:"summary" yaml:"summary"`
}

// NewEntry summarizes e for display.
func NewEntry(e Event) Entry {
	return Entry{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Type:      e.Type,
		User:      e.User,
		Summary:   Summarize(e),
	}
}

type summarizer func(e Event) string

var summarizers = map[EventType]summarizer{
	ProjectCreated: func(e Event) string {
		if name := e.DataString("name"); name != "" {
			return fmt.Sprintf("Created project %q", name)
		}
		return "Created project"
	},
	ProjectOpened: constant("Opened project"),
	ProjectSaved: func(e Event) string {
		if e.IsRestorePoint() {
			return fmt.Sprintf("Created restore point %q", e.DataString("name"))
		}
		return "Saved project"
	},
	ProjectClosed: constant("Closed project"),
	SceneAdded: func(e Event) string {
		scene, _ := e.Data["scene"].(map[string]any)
		if title, ok := scene["title"].(string); ok && title != "" {
			return fmt.Sprintf("Added scene %q", title)
		}
		if id, ok := scene["id"]; ok {
			return fmt.Sprintf("Added scene %v", id)
		}
		return "Added scene"
	},
	SceneUpdated: func(e Event) string {
		updates, _ := e.Data["updates"].(map[string]any)
		if len(updates) == 0 {
			return fmt.Sprintf("Updated scene %v", e.Data["scene_id"])
		}
		return fmt.Sprintf("Updated scene %v (%s)", e.Data["scene_id"], strings.Join(sortedKeys(updates), ", "))
	},
	SceneDeleted:    sceneRef("Deleted scene %v"),
	ScenesReordered: constant("Reordered scenes"),
	PromptGenerated: sceneRef("Generated prompt for scene %v"),
	PromptEdited:    sceneRef("Edited prompt for scene %v"),
	ImageGenerated:  sceneRef("Generated image for scene %v"),
	ImageApproved:   sceneRef("Approved image for scene %v"),
	ImageRejected:   sceneRef("Rejected image for scene %v"),
	AudioAdded: func(e Event) string {
		if path := e.DataString("path"); path != "" {
			return fmt.Sprintf("Added audio %s", path)
		}
		return "Added audio"
	},
	AudioUpdated:  constant("Updated audio"),
	AudioRemoved:  constant("Removed audio"),
	VideoRendered: constant("Rendered video"),
	VideoExported: func(e Event) string {
		if path := e.DataString("path"); path != "" {
			return fmt.Sprintf("Exported video to %s", path)
		}
		return "Exported video"
	},
	SettingsUpdated: func(e Event) string {
		if len(e.Data) == 0 {
			return "Updated settings"
		}
		return fmt.Sprintf("Updated settings (%s)", strings.Join(sortedKeys(e.Data), ", "))
	},
	ProviderChanged: func(e Event) string {
		return fmt.Sprintf("Changed provider to %s", e.DataString("provider"))
	},
	ModelChanged: func(e Event) string {
		return fmt.Sprintf("Changed model to %s", e.DataString("model"))
	},
}

// Summarize renders a one-line description of e. Types without a template
// fall back to the humanized type name.
func Summarize(e Event) string {
	if fn, ok := summarizers[e.Type]; ok {
		return fn(e)
	}
	return Humanize(string(e.Type))
}

// Humanize turns "scene_added" into "Scene added".
func Humanize(name string) string {
	s := strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func constant(s string) summarizer {
	return func(Event) string { return s }
}

func sceneRef(format string) summarizer {
	return func(e Event) string {
		return fmt.Sprintf(format, e.Data["scene_id"])
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
