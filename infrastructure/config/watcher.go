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
)

// DynamicConfig holds the settings safe to change at runtime. Anything
// structural (store driver, queue capacities) requires a restart and
// lives in Config instead.
type DynamicConfig struct {
	ConflictStrategy string        `yaml:"conflictStrategy"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
	LogLevel         string        `yaml:"logLevel"`
}

// Watcher watches the dynamic configuration file and notifies
// registered listeners when it changes.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	current  DynamicConfig
	onChange []func(DynamicConfig)

	stopCh chan struct{}
}

// NewWatcher loads the file at path and starts tracking it
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	current, err := loadDynamicConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}
	// Editors and configmap mounts replace the file via rename, so the
	// directory needs watching too.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		logger.Warn("cannot watch config directory", zap.Error(err))
	}

	return &Watcher{
		path:    path,
		watcher: fsw,
		logger:  logger,
		current: current,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for changes
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("configuration watcher started", zap.String("path", w.path))
}

// Stop halts the watch loop
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

// Current returns the active dynamic configuration
func (w *Watcher) Current() DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload
func (w *Watcher) OnChange(fn func(DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

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
				debounce = time.AfterFunc(debounceDelay, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	next, err := loadDynamicConfig(w.path)
	if err != nil {
		w.logger.Error("invalid configuration, keeping current",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	previous := w.current
	w.current = next
	handlers := append([]func(DynamicConfig){}, w.onChange...)
	w.mu.Unlock()

	if previous == next {
		return
	}
	w.logger.Info("configuration reloaded",
		zap.String("conflictStrategy", next.ConflictStrategy),
		zap.Duration("cacheTTL", next.CacheTTL),
		zap.String("logLevel", next.LogLevel),
	)
	for _, fn := range handlers {
		fn(next)
	}
}

func loadDynamicConfig(path string) (DynamicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DynamicConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg DynamicConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DynamicConfig{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	if cfg.CacheTTL < 0 {
		return DynamicConfig{}, fmt.Errorf("cacheTTL cannot be negative")
	}
	return cfg, nil
}
