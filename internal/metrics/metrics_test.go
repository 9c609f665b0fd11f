package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Registry
// =============================================================================

func TestRegistryNamesAndReuse(t *testing.T) {
	r := NewRegistry("lyricreel", "store")

	c1 := r.RegisterCounter("things_total", "things", nil)
	c2 := r.RegisterCounter("things_total", "things", nil)
	assert.Same(t, c1, c2)

	c1.Add(3)
	snap := r.Snapshot()
	assert.Equal(t, uint64(3), snap["lyricreel_store_things_total"])
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("", "")
	h := r.RegisterHistogram("latency", "latency", nil, []float64{1, 5})

	h.Observe(0.5)
	h.Observe(1)
	h.Observe(3)
	h.Observe(10)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 14.5, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `latency_bucket{le="1"} 2`)
	assert.Contains(t, out, `latency_bucket{le="5"} 3`)
	assert.Contains(t, out, `latency_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "latency_count 4")
}

func TestWritePrometheusSorted(t *testing.T) {
	r := NewRegistry("x", "")
	r.RegisterCounter("b_total", "b", nil).Inc()
	r.RegisterCounter("a_total", "a", Labels{"kind": "scene"}).Inc()

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Less(t, strings.Index(out, "x_a_total"), strings.Index(out, "x_b_total"))
	assert.Contains(t, out, `x_a_total{kind="scene"} 1`)
}

func TestWriteJSON(t *testing.T) {
	r := NewRegistry("x", "")
	r.RegisterGauge("depth", "depth", nil).Set(7)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "gauge", decoded["x_depth"]["type"])
	assert.Equal(t, float64(7), decoded["x_depth"]["value"])
}

func TestReset(t *testing.T) {
	r := NewRegistry("", "")
	c := r.RegisterCounter("c", "c", nil)
	h := r.RegisterHistogram("h", "h", nil, nil)
	c.Inc()
	h.Observe(1)

	r.Reset()
	assert.Zero(t, c.Value())
	assert.Zero(t, h.Count())
}

// =============================================================================
// HistoryMetrics
// =============================================================================

func TestHistoryMetrics(t *testing.T) {
	m := NewHistoryMetrics(NewRegistry("lyricreel", ""))

	m.RecordAppend(1, true)
	m.RecordAppend(2, true)
	m.RecordAppend(1, false)
	m.RecordCorruptRow()
	m.RecordSnapshot()
	m.RecordPrunedSnapshots(2)
	m.RecordPrunedSnapshots(0)
	m.ObserveReplay(20*time.Millisecond, 42)

	assert.Equal(t, uint64(2), m.EventsAppended.Value())
	assert.Equal(t, uint64(1), m.DuplicateEvents.Value())
	assert.Equal(t, uint64(1), m.CorruptRowsSkipped.Value())
	assert.Equal(t, uint64(1), m.SnapshotsCreated.Value())
	assert.Equal(t, uint64(2), m.SnapshotsPruned.Value())
	assert.Equal(t, int64(2), m.LastEventID.Value())
	assert.Equal(t, uint64(1), m.Rebuilds.Value())
	assert.InDelta(t, 42, m.EventsReplayed.Sum(), 1e-9)
}

func TestNilHistoryMetrics(t *testing.T) {
	var m *HistoryMetrics
	assert.NotPanics(t, func() {
		m.RecordAppend(1, true)
		m.RecordCorruptRow()
		m.RecordSnapshot()
		m.RecordPrunedSnapshots(1)
		m.ObserveReplay(time.Second, 1)
	})
	assert.Nil(t, m.Registry())
}
