package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/pgweb/internal/cli/prompt"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample pgweb configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/pgweb/config.yaml.
Use --config to specify a custom path. When the file already exists you are
asked before it is replaced; --force skips the question.

Examples:
  pgweb init
  pgweb init --config /etc/pgweb/config.yaml
  pgweb init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ResolvePath(GetConfigFile())

	force := initForce
	if !force && fileExists(configPath) && isTerminal(os.Stdin) {
		ok, err := prompt.Confirm(fmt.Sprintf("Overwrite %s", configPath), false)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return nil
			}
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Keeping existing configuration")
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(configPath, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point the database section at your PostgreSQL instance")
	fmt.Fprintln(out, "  2. Check it with: pgweb config validate")
	fmt.Fprintf(out, "  3. Start the supervisor with: pgweb start --config %s\n", configPath)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
