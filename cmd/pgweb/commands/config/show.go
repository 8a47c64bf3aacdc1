package config

import (
	"github.com/marmos91/pgweb/internal/cli/output"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective pgweb configuration: the file merged with
PGWEB_* environment overrides and defaults.

Examples:
  pgweb config show
  pgweb config show --output json
  PGWEB_PG_WEB_PORT=9090 pgweb config show --config /etc/pgweb/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, cfg)
}
