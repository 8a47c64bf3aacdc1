package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/pgweb/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
// Example: PGWEB_PG_WEB_PORT=9090, PGWEB_LOGGING_LEVEL=DEBUG
const EnvPrefix = "PGWEB"

// Config represents the pgweb configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PGWEB_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus collection and textfile export
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Web holds the pg_web.* parameters of the HTTP worker
	Web WebConfig `mapstructure:"pg_web" yaml:"pg_web"`

	// Database is the PostgreSQL instance the worker connects to
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Supervisor controls the process that launches and restarts workers
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
}

// WebConfig holds the parameters of the HTTP worker.
type WebConfig struct {
	// Port is the TCP port the worker listens on.
	// Requires a restart to change.
	Port int `mapstructure:"port" validate:"min=10,max=65000" yaml:"port"`

	// BindAddress is the listen address. Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	// Naptime bounds how long the worker sleeps between event loop passes
	// when nothing wakes it.
	Naptime time.Duration `mapstructure:"naptime" validate:"gt=0" yaml:"naptime"`

	// WriteTimeout bounds writing one response to a client.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0" yaml:"write_timeout"`

	// DrainTimeout bounds how long a closed-for-writing connection is kept
	// around waiting for the peer to hang up.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0" yaml:"drain_timeout"`

	// MaxRequestLine is the longest accepted request line, e.g. "8KiB".
	MaxRequestLine bytesize.ByteSize `mapstructure:"max_request_line" validate:"min=16,max=1048576" yaml:"max_request_line"`
}

// DatabaseConfig identifies the PostgreSQL database.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required" yaml:"host"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
	Database string `mapstructure:"database" validate:"required" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`

	// SSLMode is passed through to libpq-style connection strings.
	SSLMode string `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full" yaml:"sslmode"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0" yaml:"connect_timeout"`
}

// ConnString returns a keyword/value connection string.
func (c DatabaseConfig) ConnString() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.Database),
	}
	if c.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", c.User))
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteConnValue(c.Password)))
	}
	if c.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// SupervisorConfig controls worker supervision.
type SupervisorConfig struct {
	// RestartInterval is the delay before a crashed worker is started again.
	RestartInterval time.Duration `mapstructure:"restart_interval" validate:"gt=0" yaml:"restart_interval"`

	// ShutdownTimeout is how long workers get to exit after SIGTERM before
	// they are killed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// RecoveryTimeout bounds the wait for the database to accept connections.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" validate:"gt=0" yaml:"recovery_timeout"`

	// StatsInterval is how often per-worker process stats are logged.
	// Zero disables stats.
	StatsInterval time.Duration `mapstructure:"stats_interval" validate:"gte=0" yaml:"stats_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path. Files are rotated.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// Rotation settings for file outputs
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"gte=0" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" validate:"gte=0" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"gte=0" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled starts a Pyroscope profiler in the supervisor and in every
	// worker
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics.
//
// The worker owns exactly one listener, so metrics are not served over
// HTTP; they are written in the text exposition format to Textfile, ready
// for a node_exporter textfile collector.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Textfile is the output path. Each worker writes <Textfile> with its
	// pid inserted before the extension.
	Textfile string `mapstructure:"textfile" validate:"required_if=Enabled true" yaml:"textfile"`

	// Interval is the minimum time between two textfile writes.
	Interval time.Duration `mapstructure:"interval" validate:"gt=0" yaml:"interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location; a missing file is not
// an error and yields defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	return decode(v)
}

// decode unmarshals, defaults and validates whatever v currently holds.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when an explicit
// configuration file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  pgweb init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry the database password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// newViper configures environment overrides, defaults and the config file.
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registering every key as a default makes AutomaticEnv apply to keys
	// that the file does not mention.
	registerDefaults(v, GetDefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	return v
}

// registerDefaults flattens cfg through its yaml encoding into viper defaults.
func registerDefaults(v *viper.Viper, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults(v, "", tree)
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		byteSizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "10s" and raw nanosecond counts
// to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// byteSizeDecodeHook converts strings like "8KiB" to bytesize.ByteSize.
// Plain numbers go through weak decoding.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		return bytesize.Parse(data.(string))
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/pgweb, ~/.config/pgweb, or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pgweb")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "pgweb")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// ResolvePath returns configPath, or the default path when it is empty.
func ResolvePath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return GetDefaultConfigPath()
}
