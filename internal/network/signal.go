package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ManualSignal forwards values pushed by the API, the CLI or tests.
type ManualSignal struct {
	ch chan bool
}

// NewManualSignal returns a signal with a small buffer of pending values.
func NewManualSignal() *ManualSignal {
	return &ManualSignal{ch: make(chan bool, 8)}
}

// Set pushes a connectivity value. It blocks when the buffer is full and
// nothing is watching.
func (s *ManualSignal) Set(online bool) { s.ch <- online }

// Watch implements Signal.
func (s *ManualSignal) Watch(ctx context.Context, observe func(bool)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-s.ch:
			observe(online)
		}
	}
}

// DefaultFileDebounce is how long the status file must stay quiet before it
// is read after a change.
const DefaultFileDebounce = 100 * time.Millisecond

// FileSignal watches a status file written by the host's network hook. The
// file holds "online" or "offline"; a missing file means offline.
type FileSignal struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	mu   sync.Mutex
	last *bool
}

// NewFileSignal returns a signal for path.
func NewFileSignal(path string, logger *zap.Logger) *FileSignal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSignal{path: filepath.Clean(path), logger: logger, debounce: DefaultFileDebounce}
}

// SetDebounce changes the quiet period. Zero reads the file on every event.
// Call it before Watch.
func (s *FileSignal) SetDebounce(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.debounce = d
}

// ReadStatus reports the connectivity recorded in the file.
func (s *FileSignal) ReadStatus() (bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read network status %s: %w", s.path, err)
	}
	switch string(bytes.ToLower(bytes.TrimSpace(data))) {
	case "online", "up", "1", "true":
		return true, nil
	default:
		return false, nil
	}
}

// Watch implements Signal. It reports the current status, then one value per
// change once the file has been quiet for the debounce period, so a hook that
// rewrites the file several times only reports where it settled. The parent
// directory is watched so hooks that replace the file atomically are still seen.
func (s *FileSignal) Watch(ctx context.Context, observe func(bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure network status dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.emit(observe)

	var (
		timer   *time.Timer
		settled <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settled:
			settled = nil
			s.emit(observe)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if s.debounce == 0 {
				s.emit(observe)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			settled = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("network status watch error", zap.Error(err))
		}
	}
}

func (s *FileSignal) emit(observe func(bool)) {
	online, err := s.ReadStatus()
	if err != nil {
		s.logger.Warn("network status unreadable", zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.last != nil && *s.last == online {
		s.mu.Unlock()
		return
	}
	s.last = &online
	s.mu.Unlock()
	observe(online)
}
