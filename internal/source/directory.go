package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kamusis/modres/internal/manifest"
)

// DefaultDebounce is how long a path must stay quiet before its changes are applied.
const DefaultDebounce = 100 * time.Millisecond

// Directory watches a directory of manifest files. Each regular file is one
// entry whose id is the file name.
type Directory struct {
	dir      string
	excludes []string
	debounce time.Duration
	create   bool
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]time.Time
	known    map[string]struct{}
	running  bool
	closed   bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stats    DirectoryStats
	stopOnce sync.Once
}

// DirectoryStats tracks watcher activity.
type DirectoryStats struct {
	Added         int
	Removed       int
	Skipped       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventOp   string
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithExcludes sets glob patterns for file names to ignore.
func WithExcludes(patterns []string) DirectoryOption {
	return func(d *Directory) { d.excludes = append([]string(nil), patterns...) }
}

// WithDebounce sets the per-path debounce window.
func WithDebounce(dur time.Duration) DirectoryOption {
	return func(d *Directory) {
		if dur > 0 {
			d.debounce = dur
		}
	}
}

// WithCreate makes Watch create the directory if it does not exist.
func WithCreate(create bool) DirectoryOption {
	return func(d *Directory) { d.create = create }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DirectoryOption {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDirectory returns a source for the manifests in dir.
func NewDirectory(dir string, opts ...DirectoryOption) *Directory {
	d := &Directory{
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]time.Time),
		known:    make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("dir", dir))
	return d
}

// Dir returns the watched directory.
func (d *Directory) Dir() string { return d.dir }

// Watch registers the filesystem watch, reports every existing manifest in
// file name order, signals idle and keeps watching on a goroutine.
func (d *Directory) Watch(ctx context.Context, h Handler) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("directory source is closed")
	}
	if d.running {
		d.mu.Unlock()
		return errors.New("directory source is already watching")
	}
	d.running = true
	d.mu.Unlock()

	if d.create {
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return fmt.Errorf("cannot create manifest dir %s: %w", d.dir, err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create watcher: %w", err)
	}
	// Watch before scanning so that nothing written in between is missed.
	if err := w.Add(d.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("cannot watch %s: %w", d.dir, err)
	}

	names, err := d.listManifests()
	if err != nil {
		_ = w.Close()
		return err
	}
	for _, name := range names {
		d.apply(h, filepath.Join(d.dir, name))
	}
	d.logger.Debug("initial scan complete", zap.Int("files", len(names)))
	h.OnIdle()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = w.Close()
		return errors.New("directory source closed while starting")
	}
	d.watcher = w
	d.mu.Unlock()
	go d.run(ctx, w, h)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (d *Directory) Close() error {
	d.mu.Lock()
	d.closed = true
	w := d.watcher
	d.mu.Unlock()

	if w == nil {
		return nil
	}
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
	return nil
}

// Stats returns the current watcher statistics.
func (d *Directory) Stats() DirectoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Directory) listManifests() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest dir %s: %w", d.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || manifest.Excluded(e.Name(), d.excludes) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// run is the event loop. It owns the watcher and closes it on exit.
func (d *Directory) run(ctx context.Context, w *fsnotify.Watcher, h Handler) {
	defer close(d.doneCh)
	defer func() {
		if err := w.Close(); err != nil {
			d.logger.Warn("cannot close watcher", zap.Error(err))
		}
	}()

	tick := d.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("context cancelled, stopping watch")
			return

		case <-d.stopCh:
			d.logger.Debug("stop requested")
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			d.record(event)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watch error", zap.Error(err))
			d.mu.Lock()
			d.stats.Errors++
			d.mu.Unlock()

		case <-ticker.C:
			d.flush(h)
		}
	}
}

// record notes a filesystem event for debounced processing.
func (d *Directory) record(event fsnotify.Event) {
	if filepath.Dir(event.Name) != filepath.Clean(d.dir) {
		return
	}
	if manifest.Excluded(event.Name, d.excludes) {
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
	case event.Has(fsnotify.Write):
		op = "modify"
	case event.Has(fsnotify.Remove):
		op = "delete"
	case event.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	d.mu.Lock()
	d.stats.LastEventTime = time.Now()
	d.stats.LastEventPath = event.Name
	d.stats.LastEventOp = op
	d.pending[event.Name] = time.Now()
	d.mu.Unlock()
}

// flush applies the paths that have been quiet for the debounce window.
func (d *Directory) flush(h Handler) {
	d.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range d.pending {
		if now.Sub(at) >= d.debounce {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	d.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.apply(h, path)
	}
}

// apply reconciles one path with the handler: present and valid files are
// upserted, missing or invalid ones are removed if they were reported before.
func (d *Directory) apply(h Handler, path string) {
	id := manifest.EntryID(path)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.forget(h, id)
		return
	case err != nil:
		d.logger.Warn("cannot stat manifest", zap.String("path", path), zap.Error(err))
		d.mu.Lock()
		d.stats.Errors++
		d.mu.Unlock()
		return
	case info.IsDir():
		return
	}

	e, err := manifest.ParseFile(path)
	if err != nil {
		d.logger.Warn("skipping malformed manifest", zap.String("path", path), zap.Error(err))
		d.mu.Lock()
		d.stats.Skipped++
		d.mu.Unlock()
		d.forget(h, id)
		return
	}

	d.mu.Lock()
	d.known[id] = struct{}{}
	d.stats.Added++
	d.mu.Unlock()
	h.OnNewEntry(id, e)
}

func (d *Directory) forget(h Handler, id string) {
	d.mu.Lock()
	_, ok := d.known[id]
	if ok {
		delete(d.known, id)
		d.stats.Removed++
	}
	d.mu.Unlock()
	if ok {
		h.OnRemovedEntry(id)
	}
}
