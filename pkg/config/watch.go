package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/pgweb/internal/logger"
)

// Watcher re-reads a configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	onChange func(*Config)
}

// NewWatcher returns a watcher for the file at path. onChange receives
// every successfully validated reload; invalid edits are logged and skipped.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Start begins watching. The watch lives for the remainder of the process.
func (w *Watcher) Start() error {
	v := newViper(w.path)
	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("cannot watch %s: file does not exist", w.path)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				logger.KeyFile, e.Name, logger.Err(err))
			return
		}
		logger.Info("Configuration file changed", logger.KeyFile, e.Name)
		w.onChange(cfg)
	})
	v.WatchConfig()

	return nil
}
