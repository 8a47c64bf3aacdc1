package guc

import (
	"fmt"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/config"
)

// Variable names owned by the web worker.
const (
	PortVariable     = "pg_web.port"
	LogLevelVariable = "pg_web.log_level"
)

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// DefineWebVariables registers the pg_web.* parameters. pg_web.port is
// backed by cell; pg_web.log_level drives the process logger.
func DefineWebVariables(r *Registry, cell *PortCell) error {
	if err := r.DefineInt(IntVariable{
		Name:        PortVariable,
		Description: "Sets the TCP port the web worker listens on.",
		Default:     DefaultPort,
		Min:         MinPort,
		Max:         MaxPort,
		Context:     ContextPostmaster,
		Assign:      cell.Set,
	}); err != nil {
		return err
	}

	return r.DefineEnum(EnumVariable{
		Name:        LogLevelVariable,
		Description: "Sets the minimum severity written to the log.",
		Default:     "INFO",
		Options:     logLevels,
		Context:     ContextSighup,
		Assign: func(level string) error {
			logger.SetLevel(level)
			return nil
		},
	})
}

// ApplyConfig pushes the parameters found in cfg into r. It is used both
// for the initial load and for reloads; after Freeze a changed port is
// logged and ignored.
func ApplyConfig(r *Registry, cfg *config.Config) error {
	if err := r.Reload(
		map[string]int{PortVariable: cfg.Web.Port},
		map[string]string{LogLevelVariable: cfg.Logging.Level},
	); err != nil {
		return fmt.Errorf("apply configuration: %w", err)
	}
	return nil
}
