// Package watcher reports changes made to an event database by other
// processes.
//
// SQLite in WAL mode appends to "<db>-wal" on every commit and folds it back
// into the main file on checkpoint, so the watcher follows the database file
// and its -wal and -shm siblings. Bursts of writes are coalesced into one
// Change once the files have been quiet for the configured interval.
package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is the debounce interval used when none is given.
const DefaultQuiet = 250 * time.Millisecond

// Change is a debounced notification that the database was written.
type Change struct {
	// Paths lists the database files touched during the burst.
	Paths     []string
	Timestamp time.Time
}

// Watcher monitors a database file and its WAL siblings.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dbPath    string
	targets   map[string]bool
	quiet     time.Duration

	// Burst tracking: touched paths and the time of the latest write.
	touched  map[string]bool
	lastSeen time.Time
	stateMu  sync.Mutex

	changes chan Change
	errors  chan error

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a watcher for the database at dbPath. quiet <= 0 selects
// DefaultQuiet.
func New(dbPath string, quiet time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		dbPath:    abs,
		targets: map[string]bool{
			abs:          true,
			abs + "-wal": true,
			abs + "-shm": true,
		},
		quiet:   quiet,
		touched: make(map[string]bool),
		changes: make(chan Change, 16),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Changes returns the channel of debounced database changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. The database directory must exist.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.dbPath)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop shuts the watcher down and closes its channels. It is safe to call
// more than once.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
		close(w.changes)
		close(w.errors)
	})
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.targets[filepath.Clean(event.Name)] {
				continue
			}

			w.stateMu.Lock()
			w.touched[filepath.Clean(event.Name)] = true
			w.lastSeen = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.quiet / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// flush emits a Change when the current burst has been quiet long enough.
func (w *Watcher) flush(now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if len(w.touched) == 0 || now.Sub(w.lastSeen) < w.quiet {
		return
	}

	paths := make([]string, 0, len(w.touched))
	for p := range w.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	select {
	case w.changes <- Change{Paths: paths, Timestamp: now}:
		clear(w.touched)
	default:
		// Receiver is behind; keep the burst and retry on the next tick.
	}
}

// DatabasePath returns the absolute path of the watched database.
func (w *Watcher) DatabasePath() string {
	return w.dbPath
}

// Targets returns the files the watcher reacts to.
func (w *Watcher) Targets() []string {
	out := make([]string, 0, len(w.targets))
	for p := range w.targets {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
