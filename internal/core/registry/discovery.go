package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arborvale/valicore/pkg/valcore"
)

// Loader turns a plug-in module file into a ready-to-register validator plus
// its metadata. Concrete loading mechanics (reading a manifest, dlopen'ing a
// shared object, etc.) are outside this core's scope; Loader is the seam a
// deployment wires in.
type Loader interface {
	Load(path string) (valcore.Validator, valcore.ValidatorMetadata, error)
}

// Discovery watches a set of directories for plug-in module files and
// (re)registers/unregisters validators as files are added, changed, or
// removed, per spec §4.8's dynamic discovery. Reloads are debounced by
// fileChangeDelay; a SHA-256 digest of each file suppresses duplicate
// reloads (e.g. editors that rewrite a file via a temp-file-and-rename).
type Discovery struct {
	registry *Registry
	loader   Loader
	delay    time.Duration
	logger   *slog.Logger
	metrics  *DiscoveryMetrics

	watcher *fsnotify.Watcher

	mu         sync.Mutex
	digests    map[string]string   // path -> last-applied digest
	owner      map[string][]string // path -> language ids it registered
	pending    map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDiscovery constructs a Discovery watching dirs. Call Start to begin
// watching; Stop to release the underlying inotify/kqueue handle.
func NewDiscovery(r *Registry, loader Loader, dirs []string, fileChangeDelay time.Duration, logger *slog.Logger, metrics *DiscoveryMetrics) (*Discovery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewDiscoveryMetrics()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return &Discovery{
		registry: r,
		loader:   loader,
		delay:    fileChangeDelay,
		logger:   logger,
		metrics:  metrics,
		watcher:  w,
		digests:  make(map[string]string),
		owner:    make(map[string][]string),
		pending:  make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events in a background goroutine.
func (d *Discovery) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.stopCh:
				return
			case event, ok := <-d.watcher.Events:
				if !ok {
					return
				}
				d.scheduleReload(event)
			case err, ok := <-d.watcher.Errors:
				if !ok {
					return
				}
				d.logger.Error("discovery watcher error", "error", err)
			}
		}
	}()
}

// Stop halts the watcher and waits for the event loop to exit. Debounce
// timers already scheduled are neither stopped nor waited for.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.watcher.Close()
	})
	d.wg.Wait()
}

func (d *Discovery) scheduleReload(event fsnotify.Event) {
	path := event.Name

	d.mu.Lock()
	if t, exists := d.pending[path]; exists {
		t.Stop()
	}
	d.pending[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()
		d.applyChange(path, event.Op)
	})
	d.mu.Unlock()
}

func (d *Discovery) applyChange(path string, op fsnotify.Op) {
	if op&fsnotify.Remove != 0 || op&fsnotify.Rename != 0 {
		d.unregisterOwned(path)
		return
	}

	start := time.Now()

	digest, err := digestFile(path)
	if err != nil {
		// File vanished between the event and now, or is unreadable; treat
		// as a removal so stale entries don't linger.
		d.unregisterOwned(path)
		return
	}

	d.mu.Lock()
	if d.digests[path] == digest {
		d.mu.Unlock()
		return // identical content, suppress duplicate reload
	}
	d.mu.Unlock()

	validator, meta, err := d.loader.Load(path)
	if err != nil {
		d.logger.Error("discovery: failed to load module", "path", path, "error", err)
		d.metrics.ReloadTotal.WithLabelValues("error").Inc()
		d.metrics.ReloadErrors.WithLabelValues("load_failed").Inc()
		return
	}

	d.unregisterOwned(path)

	languageID := validator.Language()
	if err := d.registry.Register(languageID, validator, meta); err != nil {
		d.logger.Error("discovery: failed to register validator", "path", path, "language", languageID, "error", err)
		d.metrics.ReloadTotal.WithLabelValues("error").Inc()
		d.metrics.ReloadErrors.WithLabelValues("register_failed").Inc()
		return
	}

	d.mu.Lock()
	d.digests[path] = digest
	d.owner[path] = append(d.owner[path], languageID)
	d.mu.Unlock()

	d.metrics.ReloadTotal.WithLabelValues("success").Inc()
	d.metrics.ReloadDuration.Observe(time.Since(start).Seconds())
	d.metrics.LastSuccess.SetToCurrentTime()

	d.logger.Info("discovery: registered validator from module", "path", path, "language", languageID)
}

func (d *Discovery) unregisterOwned(path string) {
	d.mu.Lock()
	languages := d.owner[path]
	delete(d.owner, path)
	delete(d.digests, path)
	d.mu.Unlock()

	for _, lang := range languages {
		if err := d.registry.Unregister(lang); err != nil {
			d.logger.Warn("discovery: failed to unregister validator", "language", lang, "error", err)
		}
	}
}

func digestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
