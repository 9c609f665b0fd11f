package metrics

import "time"

// HistoryMetrics holds the event store metrics. A nil *HistoryMetrics is
// valid and records nothing.
type HistoryMetrics struct {
	registry *Registry

	EventsAppended     *Counter
	DuplicateEvents    *Counter
	CorruptRowsSkipped *Counter
	SnapshotsCreated   *Counter
	SnapshotsPruned    *Counter
	Rebuilds           *Counter

	LastEventID *Gauge

	ReplayDuration *Histogram
	EventsReplayed *Histogram
}

// NewHistoryMetrics registers the event store metrics on registry, or on the
// default registry when registry is nil.
func NewHistoryMetrics(registry *Registry) *HistoryMetrics {
	if registry == nil {
		registry = Default()
	}

	return &HistoryMetrics{
		registry: registry,

		EventsAppended: registry.RegisterCounter(
			"events_appended_total",
			"Events inserted into the log",
			nil,
		),
		DuplicateEvents: registry.RegisterCounter(
			"events_duplicate_total",
			"Appends ignored because the checksum was already stored",
			nil,
		),
		CorruptRowsSkipped: registry.RegisterCounter(
			"events_corrupt_skipped_total",
			"Stored events skipped during reads because they failed to decode",
			nil,
		),
		SnapshotsCreated: registry.RegisterCounter(
			"snapshots_created_total",
			"Snapshots written",
			nil,
		),
		SnapshotsPruned: registry.RegisterCounter(
			"snapshots_pruned_total",
			"Snapshots deleted by pruning",
			nil,
		),
		Rebuilds: registry.RegisterCounter(
			"rebuilds_total",
			"State rebuilds performed",
			nil,
		),
		LastEventID: registry.RegisterGauge(
			"last_event_id",
			"Row id of the most recently inserted event",
			nil,
		),
		ReplayDuration: registry.RegisterHistogram(
			"replay_duration_seconds",
			"Time spent rebuilding state",
			nil,
			DurationBuckets,
		),
		EventsReplayed: registry.RegisterHistogram(
			"events_replayed",
			"Events folded per rebuild",
			nil,
			CountBuckets,
		),
	}
}

// Registry returns the registry the metrics live on.
func (m *HistoryMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordAppend counts an append attempt.
func (m *HistoryMetrics) RecordAppend(id int64, inserted bool) {
	if m == nil {
		return
	}
	if !inserted {
		m.DuplicateEvents.Inc()
		return
	}
	m.EventsAppended.Inc()
	m.LastEventID.Set(id)
}

// RecordCorruptRow counts a stored event that could not be decoded.
func (m *HistoryMetrics) RecordCorruptRow() {
	if m == nil {
		return
	}
	m.CorruptRowsSkipped.Inc()
}

// RecordSnapshot counts a snapshot write.
func (m *HistoryMetrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.SnapshotsCreated.Inc()
}

// RecordPrunedSnapshots counts deleted snapshots.
func (m *HistoryMetrics) RecordPrunedSnapshots(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SnapshotsPruned.Add(uint64(n))
}

// ObserveReplay records one rebuild.
func (m *HistoryMetrics) ObserveReplay(d time.Duration, events int) {
	if m == nil {
		return
	}
	m.Rebuilds.Inc()
	m.ReplayDuration.ObserveDuration(d)
	m.EventsReplayed.Observe(float64(events))
}
