package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")

	changes := make(chan *Config, 16)
	w := NewWatcher(path, func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	require.NoError(t, w.Start())

	// Give the fsnotify watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: DEBUG\n"), 0644))

	// An editor may produce intermediate events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Logging.Level == "DEBUG" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	w := NewWatcher("/nonexistent/pgweb.yaml", func(*Config) {})
	assert.Error(t, w.Start())
}
