package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avapigw/core/internal/observability"
)

// SnapshotCallback is invoked with the newly published RouteSnapshot
// after every successful reload.
type SnapshotCallback func(*RouteSnapshot)

// ErrorCallback is called when an error occurs during config reload.
type ErrorCallback func(error)

// PluginRoutesFunc returns the routes currently owned by the plugin
// layer, merged in ahead of user routes on every rebuild (§4.1, §6
// "APIRoutes()").
type PluginRoutesFunc func() []*Route

// Watcher watches a routes YAML file for changes and republishes a
// RouteSnapshot on every write (§2 item 2, §5, §6). The current snapshot
// is held in an atomic.Pointer so readers never observe a partially
// loaded one.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      SnapshotCallback
	errorCallback ErrorCallback
	pluginRoutes  PluginRoutesFunc
	logger        observability.Logger
	debounceDelay time.Duration

	current atomic.Pointer[RouteSnapshot]
	version uint64 // atomic, bumped on every successful reload

	mu        sync.Mutex
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDelay = delay }
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) { w.errorCallback = callback }
}

// WithPluginRoutes sets the plugin-route source merged in on every
// rebuild (§6).
func WithPluginRoutes(fn PluginRoutesFunc) WatcherOption {
	return func(w *Watcher) { w.pluginRoutes = fn }
}

// NewWatcher creates a routes-document watcher for path.
func NewWatcher(path string, callback SnapshotCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the initial snapshot and begins watching for changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.reloadOnce(); err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("started watching routes file", observability.String("path", w.path))
	go w.watch(ctx)
	return nil
}

// Stop halts watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	return w.watcher.Close()
}

// Current returns the most recently published snapshot, or nil before
// the first successful load.
func (w *Watcher) Current() *RouteSnapshot {
	return w.current.Load()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("routes watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("routes watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleWatchError(err)
		}
	}
}

func (w *Watcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("routes file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

func (w *Watcher) handleWatchError(err error) {
	w.logger.Error("routes watcher error", observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// reload loads, validates, and (on success) publishes a new snapshot,
// invoking the callback. A failure leaves the previous snapshot in
// effect and is reported via errorCallback, never panics the watch loop.
func (w *Watcher) reload() {
	w.logger.Info("reloading routes", observability.String("path", w.path))

	if err := w.reloadOnce(); err != nil {
		w.logger.Error("failed to reload routes", observability.Error(err))
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}

	w.logger.Info("routes reloaded successfully",
		observability.Int64("conf_version", int64(w.current.Load().ConfVersion)))
}

// reloadOnce performs one load+validate+publish cycle, shared by Start
// and ForceReload.
func (w *Watcher) reloadOnce() error {
	doc, err := LoadRoutesDocument(w.path)
	if err != nil {
		return err
	}
	if err := ValidateRoutesDocument(doc); err != nil {
		return err
	}

	upstreams := make(map[string]*Upstream, len(doc.Upstreams))
	for _, u := range doc.Upstreams {
		upstreams[u.Name] = u
	}

	var pluginRoutes []*Route
	if w.pluginRoutes != nil {
		pluginRoutes = w.pluginRoutes()
	}

	snap := &RouteSnapshot{
		Routes:       doc.Routes,
		PluginRoutes: pluginRoutes,
		Upstreams:    upstreams,
		ConfVersion:  atomic.AddUint64(&w.version, 1),
	}

	w.current.Store(snap)
	if w.callback != nil {
		w.callback(snap)
	}
	return nil
}

// ForceReload forces an immediate reload outside the file-event loop.
func (w *Watcher) ForceReload() error {
	return w.reloadOnce()
}
