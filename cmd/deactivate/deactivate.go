package deactivate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/vulnimpact/internal/app"
	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/logger"
)

var (
	AppConfig              *config.Config
	reactivate             bool
	exampleDeactivateUsage = `  # Stop scheduled scans of a repository, keeping its history
  vulnimpact deactivate acme/web

  # Resume monitoring
  vulnimpact deactivate acme/web --undo`
)

var DeactivateCmd = &cobra.Command{
	Use:                   "deactivate OWNER/NAME [--undo]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleDeactivateUsage,
	Short:                 "Pauses monitoring of a repository",
	Long:                  `Excludes a repository from scheduled cycles. Its registration and scan history are kept.`,
	Args:                  cobra.ExactArgs(1),
	RunE:                  runDeactivateCommand,
}

func init() {
	DeactivateCmd.Flags().BoolVar(&reactivate, "undo", false, "Resume monitoring instead")
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runDeactivateCommand(cmd *cobra.Command, args []string) error {
	logger := logger.NewLogger(AppConfig, "core-deactivate")
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

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Orchestrator.SetRepositoryActive(ctx, args[0], reactivate); err != nil {
		return err
	}

	state := "deactivated"
	if reactivate {
		state = "activated"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
	return err
}
