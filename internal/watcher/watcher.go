// Package watcher provides a debounced, polling-backed file-change
// event source, per spec.md §4.7.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a file-change event.
type EventKind string

const (
	Added   EventKind = "added"
	Changed EventKind = "changed"
	Deleted EventKind = "deleted"
)

// Event is a single coalesced file-change notification.
type Event struct {
	Path string
	Kind EventKind
}

// defaultSkipGlobs are noise paths skipped unless explicitly requested,
// per spec.md §4.7. Matched against the path's slash-separated
// components via doublestar, mirroring kai-cli's gitignore-style matcher
// but against a fixed list rather than a loaded ignore file.
var defaultSkipGlobs = []string{
	"**/node_modules/**",
	"**/node_modules",
	"**/.git/**",
	"**/.git",
	"**/.ionify/**",
	"**/.ionify",
	"**/dist/**",
	"**/dist",
}

// debounceWindow coalesces rapid successive events on the same path
// (editor save bursts), per spec.md §4.7.
const debounceWindow = 120 * time.Millisecond

// pollInterval is the mandatory polling fallback cadence layered on top
// of OS notifications.
const pollInterval = 5 * time.Second

// Watcher watches a set of absolute paths and emits coalesced Events.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu       sync.Mutex
	watched  map[string]*watchedPath
	explicit map[string]bool // paths explicitly requested despite noise globs
	events   chan Event
	closed   bool

	stopPoll chan struct{}
}

type watchedPath struct {
	lastSize  int64
	lastMtime time.Time
	debounce  *time.Timer
	pending   EventKind
}

// New creates a Watcher and starts its polling-fallback loop. Callers
// must range over Events() and call CloseAll() when done.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		watched:  make(map[string]*watchedPath),
		explicit: make(map[string]bool),
		events:   make(chan Event, 256),
		stopPoll: make(chan struct{}),
	}

	go w.readLoop()
	go w.pollLoop()

	return w, nil
}

// Events returns the channel of coalesced file-change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Watch registers path for watching. It is idempotent: watching an
// already-watched path registers exactly one observer.
func (w *Watcher) Watch(path string) error {
	return w.watch(path, false)
}

// WatchExplicit registers path even if it matches a default noise glob.
func (w *Watcher) WatchExplicit(path string) error {
	return w.watch(path, true)
}

func (w *Watcher) watch(path string, explicit bool) error {
	if !explicit && isNoisePath(path) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if explicit {
		w.explicit[path] = true
	}
	if _, ok := w.watched[path]; ok {
		return nil
	}

	info, statErr := os.Stat(path)
	wp := &watchedPath{}
	if statErr == nil {
		wp.lastSize = info.Size()
		wp.lastMtime = info.ModTime()
	}
	w.watched[path] = wp

	return w.fsw.Add(path)
}

// Unwatch releases the observer for path.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	wp, ok := w.watched[path]
	if !ok {
		return nil
	}
	if wp.debounce != nil {
		wp.debounce.Stop()
	}
	delete(w.watched, path)
	delete(w.explicit, path)
	return w.fsw.Remove(path)
}

// CloseAll releases every underlying watch handle. It is idempotent.
func (w *Watcher) CloseAll() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, wp := range w.watched {
		if wp.debounce != nil {
			wp.debounce.Stop()
		}
	}
	w.watched = make(map[string]*watchedPath)
	w.mu.Unlock()

	close(w.stopPoll)
	err := w.fsw.Close()
	close(w.events)
	return err
}

func (w *Watcher) readLoop() {
	for ev := range w.fsw.Events {
		kind := Changed
		switch {
		case ev.Has(fsnotify.Create):
			kind = Added
		case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
			kind = Deleted
		case ev.Has(fsnotify.Write):
			kind = Changed
		default:
			continue
		}
		w.debounceEmit(ev.Name, kind)
	}
}

// debounceEmit coalesces bursts of events for the same path into one
// emission, per spec.md §4.7 ("≥100ms coalescing debounce per path").
func (w *Watcher) debounceEmit(path string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	wp, ok := w.watched[path]
	if !ok {
		wp = &watchedPath{}
		w.watched[path] = wp
	}
	wp.pending = kind

	if wp.debounce != nil {
		wp.debounce.Stop()
	}
	wp.debounce = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		cur, ok := w.watched[path]
		if !ok || w.closed {
			w.mu.Unlock()
			return
		}
		pending := cur.pending
		w.mu.Unlock()

		w.send(Event{Path: path, Kind: pending})
	})
}

func (w *Watcher) send(ev Event) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		// Backpressure: drop rather than block the debounce timer
		// goroutine forever; a stalled consumer will miss an event but
		// the polling fallback below will re-synthesize it on its next
		// tick if the file is still different from its last known stat.
	}
}

// pollLoop is the mandatory polling fallback layered atop fsnotify so
// platforms with lossy OS notifications still converge, per spec.md
// §4.7.
func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopPoll:
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watched))
	for p := range w.watched {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)

		w.mu.Lock()
		wp, ok := w.watched[path]
		if !ok {
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		if err != nil {
			if os.IsNotExist(err) {
				w.debounceEmit(path, Deleted)
			}
			continue
		}

		if info.Size() != wp.lastSize || !info.ModTime().Equal(wp.lastMtime) {
			w.mu.Lock()
			wp.lastSize = info.Size()
			wp.lastMtime = info.ModTime()
			w.mu.Unlock()
			w.debounceEmit(path, Changed)
		}
	}
}

func isNoisePath(path string) bool {
	// doublestar patterns are relative (no leading separator); strip it
	// so "**/node_modules/**" matches "/proj/node_modules/x.js" the way
	// a gitignore-style matcher would.
	normalized := strings.TrimPrefix(filepath.ToSlash(path), "/")
	for _, glob := range defaultSkipGlobs {
		if ok, _ := doublestar.Match(glob, normalized); ok {
			return true
		}
	}
	return false
}
