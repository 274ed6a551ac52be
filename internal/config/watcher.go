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

// Reload describes one accepted change of the config file.
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// fileState identifies one version of the config file on disk.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every valid content change to a
// callback. Invalid revisions are logged and skipped; the last good config
// stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)
	environ  map[string]string

	// checkMu serialises polls with explicit Check calls.
	checkMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState
	reloads int

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds. A
// negative interval disables polling; reloads then happen only via
// [Watcher.Check].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d != 0 {
			w.interval = d
		}
	}
}

// WithWatchEnvironment sets the variables used for KALAM_* overrides on each
// reload. The default reads the process environment.
func WithWatchEnvironment(environ map[string]string) WatcherOption {
	return func(w *Watcher) { w.environ = environ }
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.state = cfg, st

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many changes have been accepted since start.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if _, err := w.check(false); err != nil {
				slog.Warn("config reload rejected", "path", w.path, "err", err)
			}
		}
	}
}

// Check re-reads the file now, ignoring the modification time, and reports
// whether a change was accepted. Use it to reload on SIGHUP.
func (w *Watcher) Check() (bool, error) {
	return w.check(true)
}

func (w *Watcher) check(force bool) (bool, error) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if info.ModTime().Equal(prev.mtime) {
			return false, nil
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == prev.sum {
		w.state.mtime = st.mtime
		w.mu.Unlock()
		return false, nil
	}
	rl := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	w.state = st
	w.reloads++
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path,
		"hot", rl.Diff.Changed(), "restart_required", rl.Diff.RestartRequired)
	if w.onReload != nil {
		w.onReload(rl)
	}
	return true, nil
}

// read loads, overrides and validates the file.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	if err := ApplyEnv(cfg, w.environ); err != nil {
		return nil, fileState{}, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
