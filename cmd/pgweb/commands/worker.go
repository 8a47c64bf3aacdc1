package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/internal/telemetry"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/guc"
	"github.com/marmos91/pgweb/pkg/host"
	"github.com/marmos91/pgweb/pkg/metrics"
	promexp "github.com/marmos91/pgweb/pkg/metrics/prometheus"
	"github.com/marmos91/pgweb/pkg/query"
	"github.com/marmos91/pgweb/pkg/worker"
	"github.com/spf13/cobra"
)

var workerName string

// workerCmd is the entry point of supervised worker processes. It is not
// meant to be run by hand: without a host-death descriptor the worker
// cannot notice that its supervisor went away.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the web worker (launched by 'pgweb start')",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerName, "name", worker.DefaultName, "Registered name of the worker")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	logger.SetProcess(
		logger.KeyRole, telemetry.RoleWorker,
		logger.KeyPID, os.Getpid(),
		logger.KeyWorkerID, uuid.NewString(),
	)

	proc := host.NewProc()

	shutdownObservability, err := InitObservability(context.Background(), cfg, telemetry.RoleWorker, workerName)
	if err != nil {
		return err
	}
	proc.OnExit(shutdownObservability)

	params := guc.NewRegistry()
	port := guc.NewPortCell()
	if err := guc.DefineWebVariables(params, port); err != nil {
		return err
	}
	if err := guc.ApplyConfig(params, cfg); err != nil {
		return err
	}
	params.Freeze()

	latch, err := host.NewLatch()
	if err != nil {
		return fmt.Errorf("failed to create latch: %w", err)
	}
	if fd, ok := host.InheritedHostDeathFD(); ok {
		if err := latch.WatchHostDeath(fd); err != nil {
			return fmt.Errorf("failed to watch host: %w", err)
		}
	} else {
		logger.Warn("No host-death descriptor inherited; run the worker through 'pgweb start'")
	}

	registry := metrics.NewRegistry(cfg.Metrics, os.Getpid())

	w := worker.New(worker.Config{Name: workerName, Web: cfg.Web}, worker.Deps{
		Proc:  proc,
		Latch: latch,
		Port:  port,
		Connect: func(ctx context.Context) (query.Session, error) {
			conn, err := query.Connect(ctx, cfg.Database, workerName)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Metrics:  promexp.NewWorkerMetrics(registry, workerName),
		Registry: registry,
		Reload: func() {
			next, err := config.Load(GetConfigFile())
			if err != nil {
				logger.Warn("Ignoring invalid configuration", logger.Err(err))
				return
			}
			if err := guc.ApplyConfig(params, next); err != nil {
				logger.Warn("Configuration reload incomplete", logger.Err(err))
			}
		},
	})

	proc.Exit(w.Run(context.Background()))
	return nil
}
