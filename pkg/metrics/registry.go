// Package metrics owns the Prometheus registry of a worker process and its
// textfile export.
//
// The worker serves exactly one listener, so metrics are never exposed over
// HTTP. Instead the registry is written in the text exposition format to a
// file that a node_exporter textfile collector picks up.
package metrics

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/config"
)

// Registry is a Prometheus registry plus the textfile it is flushed to.
//
// A nil *Registry is valid and disables collection: collectors built on it
// are nil and every flush is a no-op.
type Registry struct {
	reg      *prometheus.Registry
	path     string
	interval time.Duration

	mu        sync.Mutex
	lastFlush time.Time
	now       func() time.Time
}

// NewRegistry returns a registry for one worker process, or nil when
// metrics are disabled. The process pid is inserted into the textfile name
// so workers never overwrite each other.
func NewRegistry(cfg config.MetricsConfig, pid int) *Registry {
	if !cfg.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Registry{
		reg:      reg,
		path:     TextfilePath(cfg.Textfile, pid),
		interval: interval,
		now:      time.Now,
	}
}

// TextfilePath inserts pid before the extension of base:
// "/x/pgweb.prom" becomes "/x/pgweb.1234.prom".
func TextfilePath(base string, pid int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".prom"
	}
	return fmt.Sprintf("%s.%d%s", stem, pid, ext)
}

// Prometheus returns the underlying registry, or nil.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Path returns the textfile path, or "" when disabled.
func (r *Registry) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// MaybeFlush writes the textfile if at least one interval has passed since
// the last write. It reports whether a write happened.
func (r *Registry) MaybeFlush() (bool, error) {
	if r == nil {
		return false, nil
	}

	r.mu.Lock()
	now := r.now()
	if !r.lastFlush.IsZero() && now.Sub(r.lastFlush) < r.interval {
		r.mu.Unlock()
		return false, nil
	}
	r.lastFlush = now
	r.mu.Unlock()

	return true, r.write()
}

// Flush writes the textfile unconditionally.
func (r *Registry) Flush() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	r.lastFlush = r.now()
	r.mu.Unlock()

	return r.write()
}

func (r *Registry) write() error {
	if err := prometheus.WriteToTextfile(r.path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", r.path, err)
	}
	logger.Debug("Metrics textfile written", logger.KeyFile, r.path)
	return nil
}
