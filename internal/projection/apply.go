package projection

import (
	"fmt"

	"lyricreel/internal/history"
)

type handler func(state State, e history.Event)

// handlers mutate the private copy made by Apply. Types without a handler
// leave state unchanged.
var handlers = map[history.EventType]handler{
	history.ProjectCreated:  applyProjectCreated,
	history.SceneAdded:      applySceneAdded,
	history.SceneUpdated:    applySceneUpdated,
	history.SceneDeleted:    applySceneDeleted,
	history.PromptEdited:    applyPromptEdited,
	history.SettingsUpdated: applySettingsUpdated,
}

// Apply returns a copy of state with e's effect merged in. state is never
// modified.
func Apply(state State, e history.Event) State {
	next := state.Clone()
	if next == nil {
		next = State{}
	}
	if fn, ok := handlers[e.Type]; ok {
		fn(next, e)
	}
	return next
}

// Fold applies events to base in order.
func Fold(base State, events []history.Event) State {
	state := base.Clone()
	if state == nil {
		state = State{}
	}
	for _, e := range events {
		if !handles(e.Type) {
			continue
		}
		state = Apply(state, e)
	}
	return state
}

// handles reports whether applying an event of type t can change state.
func handles(t history.EventType) bool {
	_, ok := handlers[t]
	return ok
}

func applyProjectCreated(state State, e history.Event) {
	for k, v := range e.Data {
		state[k] = copyValue(v)
	}
}

func applySceneAdded(state State, e history.Event) {
	scene, ok := e.Data["scene"]
	if !ok {
		return
	}
	state["scenes"] = append(sceneList(state), copyValue(scene))
}

func applySceneUpdated(state State, e history.Event) {
	updates, ok := copyValue(e.Data["updates"]).(map[string]any)
	if !ok {
		return
	}
	scenes := sceneList(state)
	i := findScene(scenes, e.Data["scene_id"])
	if i < 0 {
		return
	}
	scene := scenes[i].(map[string]any)
	for k, v := range updates {
		scene[k] = v
	}
	state["scenes"] = scenes
}

func applySceneDeleted(state State, e history.Event) {
	id, ok := e.Data["scene_id"]
	if !ok {
		return
	}
	scenes := sceneList(state)
	kept := make([]any, 0, len(scenes))
	for _, item := range scenes {
		if scene, isMap := item.(map[string]any); isMap && sameID(scene["id"], id) {
			continue
		}
		kept = append(kept, item)
	}
	state["scenes"] = kept
}

func applyPromptEdited(state State, e history.Event) {
	scenes := sceneList(state)
	i := findScene(scenes, e.Data["scene_id"])
	if i < 0 {
		return
	}
	scene := scenes[i].(map[string]any)
	prompt := copyValue(e.Data["prompt"])
	scene["prompt"] = prompt

	entries, _ := scene["prompt_history"].([]any)
	scene["prompt_history"] = append(entries, map[string]any{
		"timestamp": history.FormatTime(e.Timestamp),
		"prompt":    prompt,
		"user":      e.User,
	})
	state["scenes"] = scenes
}

func applySettingsUpdated(state State, e history.Event) {
	settings, ok := state["settings"].(map[string]any)
	if !ok {
		settings = make(map[string]any, len(e.Data))
	}
	for k, v := range e.Data {
		settings[k] = copyValue(v)
	}
	state["settings"] = settings
}

// sceneList returns the scenes slice of a state that Apply already copied.
func sceneList(state State) []any {
	scenes, _ := state["scenes"].([]any)
	return scenes
}

func findScene(scenes []any, id any) int {
	if id == nil {
		return -1
	}
	for i, item := range scenes {
		if scene, ok := item.(map[string]any); ok && sameID(scene["id"], id) {
			return i
		}
	}
	return -1
}

// sameID compares scene ids loosely so 1 and 1.0 match after a JSON round trip.
func sameID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
