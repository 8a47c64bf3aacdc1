package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/internal/telemetry"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/guc"
	"github.com/marmos91/pgweb/pkg/host"
	"github.com/marmos91/pgweb/pkg/query"
	"github.com/marmos91/pgweb/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pgweb supervisor",
	Long: `Start the pgweb supervisor, which waits for the database to accept
connections and then launches the pg_web worker.

By default the supervisor runs in the background (daemon mode). Use
--foreground when running under systemd, in a container or for debugging.

The listen port (pg_web.port) is read once at startup; change it and
restart to move the worker. SIGHUP or an edit of the configuration file
reloads logging.level in the supervisor and in the worker.

Examples:
  # Start in background
  pgweb start

  # Start in foreground with a custom config file
  pgweb start --foreground --config /etc/pgweb/config.yaml

  # Override the port from the environment
  PGWEB_PG_WEB_PORT=9090 pgweb start -f`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/pgweb/pgweb.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/pgweb/pgweb.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	logger.SetProcess(logger.KeyRole, telemetry.RoleSupervisor, logger.KeyPID, os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := InitObservability(ctx, cfg, telemetry.RoleSupervisor, "")
	if err != nil {
		return err
	}
	defer shutdownObservability()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	params := guc.NewRegistry()
	port := guc.NewPortCell()
	if err := guc.DefineWebVariables(params, port); err != nil {
		return err
	}
	if err := guc.ApplyConfig(params, cfg); err != nil {
		return err
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	sup := host.NewSupervisor(host.SupervisorConfig{
		ShutdownTimeout: cfg.Supervisor.ShutdownTimeout,
		StatsInterval:   cfg.Supervisor.StatsInterval,
		ParamEnv: func() []string {
			_, p := port.Get()
			return []string{config.EnvPrefix + "_PG_WEB_PORT=" + p}
		},
	})

	workerArgs := []string{"worker", "--name", worker.DefaultName}
	if GetConfigFile() != "" {
		workerArgs = append(workerArgs, "--config", GetConfigFile())
	}
	if err := sup.Register(host.BackgroundWorker{
		Name:            worker.DefaultName,
		StartTime:       host.StartOnRecoveryFinished,
		RestartInterval: cfg.Supervisor.RestartInterval,
		Path:            executable,
		Args:            workerArgs,
	}); err != nil {
		return err
	}

	reload := func(next *config.Config) {
		if err := guc.ApplyConfig(params, next); err != nil {
			logger.Warn("Configuration reload incomplete", logger.Err(err))
		}
		n := sup.SignalWorkers(syscall.SIGHUP)
		logger.Debug("Forwarded reload to workers", "workers", n)
	}
	watchReloads(ctx, reload)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	logger.Info("Supervisor is running. Press Ctrl+C to stop.",
		logger.KeyWorker, worker.DefaultName, logger.KeyPort, cfg.Web.Port)

	err = sup.Run(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Supervisor.RecoveryTimeout)
		defer cancel()
		ping := query.Pinger(cfg.Database, "pgweb_supervisor")
		if err := query.WaitForDatabase(ctx, ping, query.DefaultRetryOptions()); err != nil {
			return err
		}
		params.Freeze()
		return nil
	})
	if err != nil {
		logger.Error("Supervisor stopped", logger.Err(err))
		return err
	}
	logger.Info("Supervisor stopped")
	return nil
}

// watchReloads calls reload after SIGHUP and whenever the configuration
// file changes. Both stop with ctx.
func watchReloads(ctx context.Context, reload func(*config.Config)) {
	path := config.ResolvePath(GetConfigFile())
	if _, err := os.Stat(path); err == nil {
		if err := config.NewWatcher(path, reload).Start(); err != nil {
			logger.Warn("Configuration file will not be watched", logger.KeyFile, path, logger.Err(err))
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("Received SIGHUP, reloading configuration")
				next, err := config.Load(GetConfigFile())
				if err != nil {
					logger.Warn("Ignoring invalid configuration", logger.Err(err))
					continue
				}
				reload(next)
			}
		}
	}()
}
