package config

import (
	"fmt"

	"github.com/marmos91/pgweb/internal/telemetry"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the pgweb configuration file.

Checks for syntax errors, missing required fields, and out of range values
such as a pg_web.port outside 10..65000.

Examples:
  pgweb config validate
  pgweb config validate --config /etc/pgweb/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Profiling.Enabled {
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}

	var warnings []string
	if cfg.Web.Port < 1024 {
		warnings = append(warnings, fmt.Sprintf("pg_web.port %d is privileged; the worker needs CAP_NET_BIND_SERVICE", cfg.Web.Port))
	}
	if cfg.Database.Password != "" {
		warnings = append(warnings, "database.password is stored in the file; prefer PGWEB_DATABASE_PASSWORD")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Interval < cfg.Web.Naptime {
		warnings = append(warnings, "metrics.interval is shorter than pg_web.naptime; an idle worker flushes once per naptime")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", config.ResolvePath(configPath))
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintf(out, "\nConfiguration summary:\n")
	fmt.Fprintf(out, "  Listen port:     %d\n", cfg.Web.Port)
	fmt.Fprintf(out, "  Database:        %s@%s:%d\n", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
