package capability

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTOML indicates the capability file could not be parsed.
	ErrInvalidTOML = errors.New("invalid capability file")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

// fileFormat is the on-disk shape:
//
//	available = ["filesystem", "git"]
type fileFormat struct {
	Available []string `toml:"available"`
}

// FileRegistry serves capabilities from a TOML file and can reload it when
// the file changes.
type FileRegistry struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	set Set

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	reloaded  chan struct{}
}

// NewFileRegistry loads path once. A nil logger is replaced by a no-op logger.
func NewFileRegistry(path string, logger *zap.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FileRegistry{
		path:     path,
		logger:   logger.Named("capability"),
		stop:     make(chan struct{}),
		reloaded: make(chan struct{}, 1),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file. On failure the previous set is kept.
func (r *FileRegistry) Reload() error {
	var f fileFormat
	if _, err := toml.DecodeFile(r.path, &f); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTOML, r.path, err)
	}
	set := NewSet(f.Available...)

	r.mu.Lock()
	r.set = set
	r.mu.Unlock()

	r.logger.Debug("capabilities loaded", zap.String("path", r.path), zap.Strings("available", set.Available()))
	return nil
}

// IsAvailable implements Registry.
func (r *FileRegistry) IsAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.IsAvailable(name)
}

// Available implements Lister.
func (r *FileRegistry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Available()
}

// Reloaded signals after each successful reload triggered by the watcher.
func (r *FileRegistry) Reloaded() <-chan struct{} {
	return r.reloaded
}

// Watch starts reloading on file changes until ctx is done or Stop is called.
// The parent directory is watched so editors that replace the file are seen.
func (r *FileRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", r.path, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go r.processEvents(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (r *FileRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.closeWatcher()
}

// closeWatcher releases the fsnotify watcher once.
func (r *FileRegistry) closeWatcher() {
	r.closeOnce.Do(func() {
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
}

func (r *FileRegistry) processEvents(ctx context.Context) {
	defer close(r.done)
	defer r.closeWatcher()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("capability reload failed", zap.Error(err))
				continue
			}
			select {
			case r.reloaded <- struct{}{}:
			default:
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("capability watcher error", zap.Error(err))
		}
	}
}
