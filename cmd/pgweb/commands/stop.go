package commands

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the pgweb supervisor",
	Long: `Stop a running pgweb supervisor.

SIGTERM lets the supervisor stop its worker gracefully: the worker closes
its listener and exits with code 0. --force sends SIGKILL to the
supervisor; the worker notices the host is gone and exits on its own.

Examples:
  pgweb stop
  pgweb stop --pid-file /run/pgweb.pid
  pgweb stop --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/pgweb/pgweb.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill (SIGKILL) instead of graceful shutdown (SIGTERM)")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pid, err := readPidFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("PID file not found: %s\n\nIs the supervisor running?", pidPath)
		}
		return err
	}

	sig, name := syscall.SIGTERM, "SIGTERM"
	if stopForce {
		sig, name = syscall.SIGKILL, "SIGKILL"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sending %s to process %d...\n", name, pid)

	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			fmt.Fprintln(out, "Supervisor already stopped")
			_ = os.Remove(pidPath)
			return nil
		}
		return fmt.Errorf("failed to send signal: %w", err)
	}

	if stopForce {
		fmt.Fprintln(out, "Supervisor terminated")
	} else {
		fmt.Fprintln(out, "Shutdown signal sent. The worker will stop gracefully.")
	}
	return nil
}
