package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"PortTooLow", func(c *Config) { c.Web.Port = 9 }, "pg_web.port must be >= 10"},
		{"PortTooHigh", func(c *Config) { c.Web.Port = 65001 }, "pg_web.port must be <= 65000"},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "LOUD" }, "logging.level must be one of"},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }, "logging.format must be one of"},
		{"BadBindAddress", func(c *Config) { c.Web.BindAddress = "not-an-ip" }, "pg_web.bind_address must be an IP address"},
		{"ZeroNaptime", func(c *Config) { c.Web.Naptime = 0 }, "pg_web.naptime must be > 0"},
		{"SampleRate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate must be <= 1"},
		{"MetricsWithoutTextfile", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Textfile = ""
		}, "metrics.textfile is required"},
		{"BadSSLMode", func(c *Config) { c.Database.SSLMode = "sometimes" }, "database.sslmode must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}
