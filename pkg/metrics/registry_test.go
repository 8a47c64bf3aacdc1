package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pgweb/pkg/config"
)

func TestNewRegistry_Disabled(t *testing.T) {
	r := NewRegistry(config.MetricsConfig{Enabled: false, Textfile: "/tmp/x.prom"}, 1)
	assert.Nil(t, r)

	// Nil registries are inert.
	assert.Nil(t, r.Prometheus())
	assert.Empty(t, r.Path())
	assert.NoError(t, r.Flush())
	wrote, err := r.MaybeFlush()
	assert.NoError(t, err)
	assert.False(t, wrote)
}

func TestTextfilePath(t *testing.T) {
	assert.Equal(t, "/x/pgweb.42.prom", TextfilePath("/x/pgweb.prom", 42))
	assert.Equal(t, "/x/pgweb.42.prom", TextfilePath("/x/pgweb", 42))
	assert.Equal(t, "metrics.7.txt", TextfilePath("metrics.txt", 7))
}

func TestRegistry_Flush(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(config.MetricsConfig{
		Enabled:  true,
		Textfile: filepath.Join(dir, "pgweb.prom"),
		Interval: time.Minute,
	}, 99)
	require.NotNil(t, r)

	require.NoError(t, r.Flush())

	data, err := os.ReadFile(filepath.Join(dir, "pgweb.99.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestRegistry_MaybeFlushOncePerInterval(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(config.MetricsConfig{
		Enabled:  true,
		Textfile: filepath.Join(dir, "pgweb.prom"),
		Interval: 10 * time.Second,
	}, 1)
	require.NotNil(t, r)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	wrote, err := r.MaybeFlush()
	require.NoError(t, err)
	assert.True(t, wrote, "first call always writes")

	now = now.Add(5 * time.Second)
	wrote, err = r.MaybeFlush()
	require.NoError(t, err)
	assert.False(t, wrote)

	now = now.Add(5 * time.Second)
	wrote, err = r.MaybeFlush()
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestRegistry_FlushError(t *testing.T) {
	r := NewRegistry(config.MetricsConfig{
		Enabled:  true,
		Textfile: filepath.Join(t.TempDir(), "missing", "dir", "pgweb.prom"),
		Interval: time.Second,
	}, 1)

	err := r.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write metrics textfile")
}
