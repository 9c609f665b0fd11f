package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lyricreel/internal/logging"
	"lyricreel/internal/metrics"
	"lyricreel/internal/schemavalidation"
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Store is an append-only event log for projects backed by SQLite.
// A Store is safe for concurrent use.
type Store struct {
	db         *sql.DB
	path       string
	log        *logging.Logger
	validator  *schemavalidation.Validator
	metrics    *metrics.HistoryMetrics
	replayMode ReplayMode
}

type options struct {
	logger      *logging.Logger
	validator   *schemavalidation.Validator
	metrics     *metrics.HistoryMetrics
	replayMode  ReplayMode
	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithValidator enables payload validation on Append.
func WithValidator(v *schemavalidation.Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithMetrics records store activity on m.
func WithMetrics(m *metrics.HistoryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReplayMode selects how RebuildState uses snapshots.
func WithReplayMode(mode ReplayMode) Option {
	return func(o *options) { o.replayMode = mode }
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		replayMode:  ReplaySnapshot,
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.replayMode == "" {
		o.replayMode = ReplaySnapshot
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	s := &Store{
		db:         db,
		path:       path,
		log:        o.logger.WithComponent("store"),
		validator:  o.validator,
		metrics:    o.metrics,
		replayMode: o.replayMode,
	}
	s.log.Debug("store opened", "path", path, "replay_mode", string(o.replayMode))
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ReplayMode returns the mode RebuildState uses.
func (s *Store) ReplayMode() ReplayMode {
	return s.replayMode
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
