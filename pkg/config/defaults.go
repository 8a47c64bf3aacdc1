package config

import (
	"strings"
	"time"

	"github.com/marmos91/pgweb/internal/bytesize"
)

// Defaults of the pg_web.* parameters.
const (
	DefaultPort           = 8080
	DefaultNaptime        = 10 * time.Second
	DefaultWriteTimeout   = time.Second
	DefaultDrainTimeout   = time.Second
	DefaultMaxRequestLine = 8 * bytesize.KiB

	DefaultRestartInterval = time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyWebDefaults(&cfg.Web)
	applyDatabaseDefaults(&cfg.Database)
	applySupervisorDefaults(&cfg.Supervisor)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Level == "WARNING" {
		cfg.Level = "WARN"
	}

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)

	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}
}

func applyWebDefaults(cfg *WebConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Naptime == 0 {
		cfg.Naptime = DefaultNaptime
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.MaxRequestLine == 0 {
		cfg.MaxRequestLine = DefaultMaxRequestLine
	}
}

// applyDatabaseDefaults points at a local server's maintenance database.
func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Database == "" {
		cfg.Database = "postgres"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "prefer"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
}

func applySupervisorDefaults(cfg *SupervisorConfig) {
	if cfg.RestartInterval == 0 {
		cfg.RestartInterval = DefaultRestartInterval
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{Insecure: true},
		Metrics: MetricsConfig{
			Textfile: "/var/lib/node_exporter/textfile/pgweb.prom",
		},
		Supervisor: SupervisorConfig{StatsInterval: time.Minute},
	}
	ApplyDefaults(cfg)
	return cfg
}
