package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file when it changes on disk and hands
// the parsed result to a callback. Editors replace files with rename/create
// sequences, so the parent directory is watched rather than the file itself.
type Watcher struct {
	configPath string
	reload     func(*Config)
	watcher    *fsnotify.Watcher
}

// NewWatcher creates a watcher for configPath. reload is invoked with each
// successfully parsed configuration.
func NewWatcher(configPath string, reload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = fsw.Add(filepath.Dir(configPath)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{configPath: configPath, reload: reload, watcher: fsw}, nil
}

// Start blocks processing filesystem events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			log.Errorf("config watcher: close error: %v", err)
		}
	}()

	// Debounce rapid event bursts from editors that write in several steps.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher: %v", err)
		case <-pending:
			pending = nil
			cfg, err := LoadConfig(w.configPath)
			if err != nil {
				log.Errorf("config watcher: reload failed: %v", err)
				continue
			}
			log.Info("configuration reloaded")
			w.reload(cfg)
		}
	}
}
