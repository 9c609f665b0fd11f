// Package projection folds project events into project state.
//
// Every function here is pure: inputs are never mutated and nothing but the
// state and the event is consulted, so replaying the same events always
// yields the same state.
package projection

import "encoding/json"

// State is the materialized project state. It always carries "project_id"
// and "scenes"; other keys appear as events are applied.
type State map[string]any

// DefaultState is the base state used when no snapshot exists.
func DefaultState(projectID string) State {
	return State{
		"project_id": projectID,
		"scenes":     []any{},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return State(copyMap(s))
}

// Scenes returns the scene list. Entries that are not objects are skipped.
func (s State) Scenes() []map[string]any {
	list, _ := s["scenes"].([]any)
	scenes := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if scene, ok := item.(map[string]any); ok {
			scenes = append(scenes, scene)
		}
	}
	return scenes
}

// copyValue deep-copies JSON-shaped values. Maps and slices are normalized to
// map[string]any and []any; other composite values go through JSON.
func copyValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return val
	case State:
		return copyMap(val)
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyMap(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return viaJSON(val)
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func viaJSON(v any) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return v
	}
	return out
}
