package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mindgraph-backend/application/ports"
)

// Tunables are the runtime-changeable settings, loaded from a yaml file
// and hot-reloaded on change. Static wiring (table names, peer URL)
// stays in Config; Tunables cover knobs operators adjust live.
type Tunables struct {
	Limits struct {
		MaxNodesPerGraph  int `yaml:"maxNodesPerGraph"`
		MaxLabelsPerEdge  int `yaml:"maxLabelsPerEdge"`
		MaxImportBatch    int `yaml:"maxImportBatch"`
		MaxContentLength  int `yaml:"maxContentLength"`
		RecommendLimitCap int `yaml:"recommendLimitCap"`
	} `yaml:"limits"`
	RateLimit struct {
		RequestsPerMinute int `yaml:"requestsPerMinute"`
		Burst             int `yaml:"burst"`
	} `yaml:"rateLimit"`
	Metadata struct {
		Version   string `yaml:"version"`
		UpdatedBy string `yaml:"updatedBy"`
	} `yaml:"metadata"`
}

// DefaultTunables returns the values used when no tunables file is
// configured.
func DefaultTunables() *Tunables {
	t := &Tunables{}
	t.Limits.MaxNodesPerGraph = 5000
	t.Limits.MaxLabelsPerEdge = 20
	t.Limits.MaxImportBatch = 100
	t.Limits.MaxContentLength = 10000
	t.Limits.RecommendLimitCap = 50
	t.RateLimit.RequestsPerMinute = 300
	t.RateLimit.Burst = 50
	return t
}

// Watcher watches the tunables file for changes and swaps the current
// snapshot atomically on reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	current  *Tunables
	mu       sync.RWMutex
	onChange []func(*Tunables)
	logger   *zap.Logger
	stopCh   chan struct{}
}

var _ ports.LimitsSource = (*Watcher)(nil)

// NewWatcher loads the initial tunables and starts watching the file
// and its directory (the directory catches atomic save renames). An
// empty path serves the defaults with no file watching.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return &Watcher{
			current: DefaultTunables(),
			logger:  logger,
			stopCh:  make(chan struct{}),
		}, nil
	}

	tunables, err := loadTunables(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial tunables: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch tunables file: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Failed to watch tunables directory", zap.Error(err))
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		current: tunables,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	if w.watcher == nil {
		w.logger.Info("No tunables file configured, using defaults")
		return
	}
	go w.watchLoop()
	w.logger.Info("Tunables watcher started", zap.String("path", w.path))
}

// Stop stops watching.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
		w.logger.Info("Tunables watcher stopped")
	}
}

// Current returns the current tunables snapshot.
func (w *Watcher) Current() *Tunables {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Limits exposes the current operational caps as the application
// layer's limits snapshot.
func (w *Watcher) Limits() ports.Limits {
	t := w.Current()
	return ports.Limits{
		MaxNodesPerGraph:  t.Limits.MaxNodesPerGraph,
		MaxLabelsPerEdge:  t.Limits.MaxLabelsPerEdge,
		MaxImportBatch:    t.Limits.MaxImportBatch,
		MaxContentLength:  t.Limits.MaxContentLength,
		RecommendLimitCap: t.Limits.RecommendLimitCap,
	}
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(handler func(*Tunables)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

func (w *Watcher) watchLoop() {
	// Debounce: editors and atomic saves fire several events per write.
	var debounce *time.Timer
	const debounceDuration = 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDuration, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Tunables watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	w.logger.Info("Tunables file changed, reloading", zap.String("path", w.path))

	tunables, err := loadTunables(w.path)
	if err != nil {
		w.logger.Error("Failed to reload tunables, keeping current", zap.Error(err))
		return
	}
	if err := validateTunables(tunables); err != nil {
		w.logger.Error("Invalid tunables, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = tunables
	handlers := w.onChange
	w.mu.Unlock()

	for _, handler := range handlers {
		go handler(tunables)
	}

	w.logger.Info("Tunables reloaded",
		zap.String("version", tunables.Metadata.Version),
	)
}

func loadTunables(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tunables := DefaultTunables()
	if err := yaml.Unmarshal(data, tunables); err != nil {
		return nil, fmt.Errorf("failed to parse tunables yaml: %w", err)
	}
	return tunables, nil
}

func validateTunables(t *Tunables) error {
	if t.Limits.MaxNodesPerGraph <= 0 {
		return fmt.Errorf("maxNodesPerGraph must be positive")
	}
	if t.Limits.MaxImportBatch <= 0 {
		return fmt.Errorf("maxImportBatch must be positive")
	}
	if t.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("requestsPerMinute must be positive")
	}
	return nil
}
