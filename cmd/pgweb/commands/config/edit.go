package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/marmos91/pgweb/pkg/config"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open configuration in editor",
	Long: `Open the configuration file in $VISUAL or $EDITOR, falling back to vi.

The file is validated once the editor exits. A running supervisor picks up
the saved file; only logging.level takes effect without a restart.

Examples:
  # Edit default config
  pgweb config edit

  # Edit specific config file
  pgweb config edit --config /etc/pgweb/config.yaml`,
	RunE: runConfigEdit,
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	// Get config path from the root persistent flag
	configPath, _ := cmd.Flags().GetString("config")
	configPath = config.ResolvePath(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it first with:\n"+
			"  pgweb init --config %s",
			configPath, configPath)
	}

	// The editor variable may carry arguments, e.g. "code --wait".
	editor := strings.Fields(editorCommand())
	editorCmd := exec.Command(editor[0], append(editor[1:], configPath)...)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}

	if _, err := config.MustLoad(configPath); err != nil {
		return fmt.Errorf("saved configuration is invalid: %w\n\n"+
			"Fix it with:\n"+
			"  pgweb config edit --config %s",
			err, configPath)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", configPath)
	return nil
}

// editorCommand picks $VISUAL, then $EDITOR, then vi.
func editorCommand() string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if e := strings.TrimSpace(os.Getenv(env)); e != "" {
			return e
		}
	}
	return "vi"
}
