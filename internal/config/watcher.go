package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher drives configuration hot-reload. It polls the config file and, when
// the content changes to something valid, hands the old and new configs to the
// reload callback; the app layer turns that into provider registry swaps,
// persona catalog replacement, and log level changes.
//
// Polling is deliberate: the server typically runs with its config on bind
// mounts or synced volumes where inotify events are unreliable, and a few
// seconds of reload latency is acceptable for persona and provider changes.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	mtime    time.Time
	sum      [sha256.Size]byte
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once synchronously, so a broken config fails startup
// rather than surfacing as a missed reload, then begins polling in the
// background.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick decides whether a reload is due. Mtime gates the content hash so an
// unchanged file costs one stat per poll; the hash gates the callback so a
// touched-but-identical file never triggers a reload downstream.
func (w *Watcher) tick() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, sum, newMtime, err := w.read()
	if err != nil {
		// A half-written or invalid file must not take down a running server;
		// keep serving the last valid config.
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if sum == w.sum {
		w.mtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.sum, w.mtime = cfg, sum, newMtime
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock: reload hooks are free to call Current().
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and validates the file, returning the parsed config with the
// content hash and mtime observed for that same read.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
