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

// DefaultWatchInterval is how often a [Watcher] polls its files.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the config file and the prompt override it references, and
// calls onChange whenever the combined content changes and still validates.
// An invalid edit keeps the previous config. Polling is used instead of
// inotify so edits through editors that replace the file, and bind-mounted
// files in containers, behave the same.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	stamp   fingerprint

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// fingerprint identifies one observed state of the watched files.
type fingerprint struct {
	// mtimes of the config file and the prompt file (zero without one).
	configMod, promptMod time.Time
	sum                  [sha256.Size]byte
}

func (f fingerprint) sameTimes(g fingerprint) bool {
	return f.configMod.Equal(g.configMod) && f.promptMod.Equal(g.promptMod)
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling. The initial load must succeed.
// onChange runs on the polling goroutine and may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp

	w.wg.Go(w.poll)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-progress check to return. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	prev := w.stamp
	promptPath := w.current.Analysis.PromptFile
	w.mu.Unlock()

	// Cheap mtime probe first; only read and parse when something moved.
	probe, err := stat(w.path, promptPath)
	if err != nil {
		slog.Warn("config watcher: cannot stat", "path", w.path, "err", err)
		return
	}
	if probe.sameTimes(prev) {
		return
	}

	cfg, stamp, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		// Touched, same content.
		w.stamp = stamp
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "prompt_file", cfg.Analysis.PromptFile)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load parses the config file, reads its prompt override and fingerprints
// both.
func (w *Watcher) load() (*Config, fingerprint, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	if err := ReadPrompt(cfg); err != nil {
		return nil, fingerprint{}, err
	}
	stamp, err := stat(w.path, cfg.Analysis.PromptFile)
	if err != nil {
		return nil, fingerprint{}, err
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(cfg.Analysis.Prompt))
	copy(stamp.sum[:], h.Sum(nil))
	return cfg, stamp, nil
}

func stat(configPath, promptPath string) (fingerprint, error) {
	var f fingerprint
	info, err := os.Stat(configPath)
	if err != nil {
		return f, err
	}
	f.configMod = info.ModTime()
	if promptPath != "" {
		info, err := os.Stat(promptPath)
		if err != nil {
			return f, err
		}
		f.promptMod = info.ModTime()
	}
	return f, nil
}
