package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/vulnimpact/internal/app"
	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/logger"
	"github.com/scan-io-git/vulnimpact/internal/metrics"
)

var (
	AppConfig         *config.Config
	exampleServeUsage = `  # Run scan cycles on the configured schedule
  vulnimpact serve --config config.yml

  # Run with the schedule of an environment-selected config
  VULNIMPACT_CONFIG=/etc/vulnimpact/config.yml vulnimpact serve`
)

var ServeCmd = &cobra.Command{
	Use:                   "serve",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleServeUsage,
	Short:                 "Runs scan cycles on a schedule until interrupted",
	Long: `Runs scan cycles on the configured interval or cron schedule. Each cycle ingests new
vulnerability intelligence, scans every due repository and requests remediation for critical hits
that have no recorded change request yet.
A trigger that fires while a cycle is still running is skipped. On SIGINT or SIGTERM no new cycle
is started and the running one is allowed to finish.

When metrics.listen is set, the listener also accepts manual scans at POST /scan/OWNER/NAME
(see "scan --server"). These run inside this process and are rejected with 409 while a cycle runs.`,
	RunE: runServeCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := logger.NewLogger(AppConfig, "core-serve")

	a, err := app.New(AppConfig, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	sched, err := a.Scheduler()
	if err != nil {
		logger.Error("failed to set up the scheduler", "error", err)
		return err
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if listen := AppConfig.Metrics.Listen; listen != "" {
		go func() {
			scanRoute := metrics.Route{Pattern: "POST /scan/{id...}", Handler: a.Orchestrator.ScanHandler()}
			if err := a.Metrics.Serve(signalCtx, listen, logger.Named("metrics"), scanRoute); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	// cycles run on their own context so a signal lets the running one finish
	cycleCtx, cancelCycles := context.WithCancel(context.Background())
	defer cancelCycles()
	sched.Start(cycleCtx)
	logger.Info("scheduler started", "interval", AppConfig.Scheduler.Interval, "cron", AppConfig.Scheduler.Cron)

	<-signalCtx.Done()
	logger.Info("shutting down, waiting for the running cycle")
	sched.Stop()
	sched.Wait()
	logger.Info("serve command completed")
	return nil
}
