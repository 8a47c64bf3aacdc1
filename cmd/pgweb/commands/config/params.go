package config

import (
	"github.com/marmos91/pgweb/internal/cli/output"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/guc"
	"github.com/spf13/cobra"
)

var paramsOutput string

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List the pg_web.* parameters",
	Long: `List the parameters the worker registers, with the values it would
start with under the current file and environment.

"postmaster" parameters are frozen when the supervisor finishes recovery;
"sighup" parameters follow configuration reloads.

Examples:
  pgweb config params
  pgweb config params --output json`,
	RunE: runConfigParams,
}

func init() {
	paramsCmd.Flags().StringVarP(&paramsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type param struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
	Context     string `json:"context" yaml:"context"`
	Description string `json:"description" yaml:"description"`
}

type paramList []param

func (l paramList) Headers() []string {
	return []string{"NAME", "VALUE", "CONTEXT", "DESCRIPTION"}
}

func (l paramList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		rows = append(rows, []string{p.Name, p.Value, p.Context, p.Description})
	}
	return rows
}

func runConfigParams(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	format, err := output.ParseFormat(paramsOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	registry := guc.NewRegistry()
	if err := guc.DefineWebVariables(registry, guc.NewPortCell()); err != nil {
		return err
	}
	if err := guc.ApplyConfig(registry, cfg); err != nil {
		return err
	}

	var list paramList
	for _, s := range registry.ShowAll() {
		list = append(list, param{
			Name:        s.Name,
			Value:       s.Value,
			Context:     s.Context.String(),
			Description: s.Description,
		})
	}
	return output.Print(cmd.OutOrStdout(), format, list)
}
