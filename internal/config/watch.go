package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/quorumhq/quorum/internal/logging"
)

// Watcher reloads the tuning section when the config file changes on
// disk. Only tuning values are hot-reloaded; session limits, provider
// settings, and paths are fixed for the lifetime of the process so
// running sessions keep the guarantees they started with.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *logging.Logger

	mu     sync.RWMutex
	tuning TuningConfig

	onChange func(TuningConfig)
	done     chan struct{}
	closed   sync.Once
}

// NewWatcher starts watching path for changes. The initial tuning
// values are taken from initial; onChange, if non-nil, is called after
// every successful reload.
func NewWatcher(path string, initial TuningConfig, onChange func(TuningConfig), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files by rename
	// and a direct file watch goes stale after the first save.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		logger:   logger,
		tuning:   initial,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop(filepath.Clean(path))
	return w, nil
}

// Tuning returns the current tuning values.
func (w *Watcher) Tuning() TuningConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tuning
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop(path string) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		// A half-written or invalid file keeps the previous values.
		w.logger.Warn("config reload rejected", "error", err)
		return
	}

	w.mu.Lock()
	changed := cfg.Tuning != w.tuning
	w.tuning = cfg.Tuning
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("tuning reloaded",
		"convergence_threshold", cfg.Tuning.ConvergenceThreshold,
		"novelty_floor", cfg.Tuning.NoveltyFloor,
		"drift_floor", cfg.Tuning.DriftFloor,
	)
	if w.onChange != nil {
		w.onChange(cfg.Tuning)
	}
}
