package store

import (
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"lyricreel/internal/history"
)

var propProjects atomic.Int64

func nextProject() string {
	return fmt.Sprintf("prop-%d", propProjects.Add(1))
}

var propTypes = []history.EventType{
	history.SceneAdded,
	history.SceneUpdated,
	history.SceneDeleted,
	history.PromptEdited,
	history.SettingsUpdated,
	history.ImageGenerated,
}

// propEvent maps a generated integer onto an event. offset places it in time.
func propEvent(projectID string, op int, offset time.Duration) *history.Event {
	sceneID := fmt.Sprintf("s%d", (op/len(propTypes))%3)
	e := &history.Event{
		ProjectID: projectID,
		Type:      propTypes[op%len(propTypes)],
		Timestamp: t0.Add(offset),
	}
	switch e.Type {
	case history.SceneAdded:
		e.Data = map[string]any{"scene": map[string]any{"id": sceneID, "n": op}}
	case history.SceneUpdated:
		e.Data = map[string]any{"scene_id": sceneID, "updates": map[string]any{"n": op}}
	case history.SceneDeleted:
		e.Data = map[string]any{"scene_id": sceneID}
	case history.PromptEdited:
		e.Data = map[string]any{"scene_id": sceneID, "prompt": fmt.Sprintf("p%d", op)}
	case history.SettingsUpdated:
		e.Data = map[string]any{fmt.Sprintf("k%d", op%2): op}
	default:
		e.Data = map[string]any{"n": op}
	}
	return e
}

func TestProperty_EventOrdering(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("filtered queries return non-decreasing timestamps", prop.ForAll(
		func(ops []int, offsets []int, typeMask int, lo, hi int) bool {
			projectID := nextProject()
			if len(offsets) == 0 {
				offsets = []int{0}
			}
			for i, op := range ops {
				off := time.Duration(offsets[i%len(offsets)]) * time.Millisecond
				if _, _, err := s.Append(propEvent(projectID, op, off)); err != nil {
					return false
				}
			}

			var q Query
			for i, et := range propTypes {
				if typeMask&(1<<i) != 0 {
					q.Types = append(q.Types, et)
				}
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			since, until := t0.Add(time.Duration(lo)*time.Millisecond), t0.Add(time.Duration(hi)*time.Millisecond)
			q.Since, q.Until = &since, &until

			events, err := s.GetEvents(projectID, q)
			if err != nil {
				return false
			}
			return sort.SliceIsSorted(events, func(i, j int) bool {
				if !events[i].Timestamp.Equal(events[j].Timestamp) {
					return events[i].Timestamp.Before(events[j].Timestamp)
				}
				return events[i].ID < events[j].ID
			}) && allWithin(events, since, until)
		},
		gen.SliceOfN(12, gen.IntRange(0, 100)),
		gen.SliceOfN(5, gen.IntRange(0, 50)),
		gen.IntRange(0, 63),
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func allWithin(events []history.Event, since, until time.Time) bool {
	for _, e := range events {
		if e.Timestamp.Before(since) || e.Timestamp.After(until) {
			return false
		}
	}
	return true
}

func TestProperty_SnapshotReplayMatchesFull(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot replay equals full replay for in-order appends", prop.ForAll(
		func(ops []int, snapEvery int, untilMs int) bool {
			projectID := nextProject()
			for i, op := range ops {
				if _, _, err := s.Append(propEvent(projectID, op, time.Duration(i)*time.Millisecond)); err != nil {
					return false
				}
				if (i+1)%snapEvery == 0 {
					if _, err := s.SnapshotNow(projectID); err != nil {
						return false
					}
				}
			}

			bounds := []*time.Time{nil, ptr(t0.Add(time.Duration(untilMs) * time.Millisecond))}
			for _, until := range bounds {
				fast, err := s.RebuildStateWith(projectID, until, ReplaySnapshot)
				if err != nil {
					return false
				}
				full, err := s.RebuildStateWith(projectID, until, ReplayFull)
				if err != nil {
					return false
				}
				if !reflect.DeepEqual(fast, full) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(15, gen.IntRange(0, 100)),
		gen.IntRange(1, 6),
		gen.IntRange(0, 20),
	))

	properties.Property("snapshot replay equals full replay for any append order", prop.ForAll(
		func(ops []int, offsets []int, snapEvery int) bool {
			projectID := nextProject()
			for i, op := range ops {
				var offset time.Duration
				if len(offsets) > 0 {
					offset = time.Duration(offsets[i%len(offsets)]) * time.Millisecond
				}
				if _, _, err := s.Append(propEvent(projectID, op, offset)); err != nil {
					return false
				}
				if (i+1)%snapEvery == 0 {
					if _, err := s.SnapshotNow(projectID); err != nil {
						return false
					}
				}
			}

			fast, err := s.RebuildStateWith(projectID, nil, ReplaySnapshot)
			if err != nil {
				return false
			}
			full, err := s.RebuildStateWith(projectID, nil, ReplayFull)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(fast, full)
		},
		gen.SliceOfN(15, gen.IntRange(0, 100)),
		gen.SliceOfN(15, gen.IntRange(0, 20)),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func TestProperty_AppendIdempotence(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("re-appending a sequence stores nothing new", prop.ForAll(
		func(ops []int) bool {
			projectID := nextProject()
			for pass := 0; pass < 2; pass++ {
				for i, op := range ops {
					if _, _, err := s.Append(propEvent(projectID, op, time.Duration(i)*time.Millisecond)); err != nil {
						return false
					}
				}
			}
			n, err := s.CountEvents(projectID, 0)
			return err == nil && n == int64(len(ops))
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
