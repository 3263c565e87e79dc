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

// ReloadFunc receives the config now in effect and the hot-reloadable part of
// what changed. d.RestartRequired is always empty.
type ReloadFunc func(cfg *Config, d ConfigDiff)

// fileState identifies one version of the options file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls the options file and applies edits to log_level and commands
// while the process runs. Edits to any other field are reported once as
// needing a restart and otherwise ignored, so [Watcher.Current] always
// describes the configuration the process is actually running with. Invalid
// files are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu        sync.Mutex
	effective *Config // startup config plus applied hot changes
	onDisk    *Config // last valid file content
	state     fileState

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

// NewWatcher loads path and starts polling it in the background. onReload may
// be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readOptions(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.effective = cfg
	w.onDisk = cfg
	w.state = st

	go w.poll()
	return w, nil
}

// Path returns the watched file path.
func (w *Watcher) Path() string { return w.path }

// Current returns the configuration in effect: the one loaded at start with
// every applied log_level and commands change.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.effective
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when its mtime moved and its content changed.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat options file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	loaded, st, err := readOptions(w.path)
	if err != nil {
		slog.Warn("config: ignoring invalid options file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state = st
		w.mu.Unlock()
		return
	}
	w.state = st
	fileDiff := Diff(w.onDisk, loaded)
	w.onDisk = loaded

	next := *w.effective
	next.LogLevel = loaded.LogLevel
	next.Commands = loaded.Commands
	hot := Diff(w.effective, &next)
	w.effective = &next
	w.mu.Unlock()

	if !fileDiff.HotReloadable() {
		slog.Warn("config: changes require a restart to take effect",
			"path", w.path,
			"fields", fileDiff.RestartRequired,
		)
	}
	if !hot.LogLevelChanged && !hot.CommandsChanged {
		return
	}
	slog.Info("config: options reloaded",
		"path", w.path,
		"log_level_changed", hot.LogLevelChanged,
		"commands_changed", hot.CommandsChanged,
	)
	if w.onReload != nil {
		w.onReload(&next, hot)
	}
}

// readOptions parses and validates the file at path and returns it with the
// state used for change detection.
func readOptions(path string) (*Config, fileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(buf.Bytes())}, nil
}
