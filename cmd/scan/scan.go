package scan

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/vulnimpact/internal/app"
	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/logger"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
	"github.com/scan-io-git/vulnimpact/pkg/shared/httpclient"
)

// RunOptionsScan holds the arguments for the scan command.
type RunOptionsScan struct {
	Format     string `json:"format,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Plans      bool   `json:"plans,omitempty"`
	History    int    `json:"history,omitempty"`
	Server     string `json:"server,omitempty"`
}

var (
	AppConfig        *config.Config
	allArgumentsScan RunOptionsScan
	exampleScanUsage = `  # Scan a registered repository and print the result as JSON
  vulnimpact scan acme/web

  # Include remediation plans for every critical hit
  vulnimpact scan acme/web --plans

  # Write a SARIF report for code scanning dashboards
  vulnimpact scan acme/web --format sarif --output reports/acme-web.sarif

  # Show the last five stored results without scanning
  vulnimpact scan acme/web --history 5

  # Let a running "serve" process scan, sharing its cycle guard
  vulnimpact scan acme/web --server http://localhost:9090`
)

var ScanCmd = &cobra.Command{
	Use:                   "scan OWNER/NAME [--format json|sarif] [--output PATH] [--plans]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleScanUsage,
	Short:                 "Scans one registered repository immediately",
	Long: `Runs the impact pipeline for one registered repository outside the schedule and prints the result.
Critical hits without a recorded change request are handed to remediation exactly as in a scheduled
cycle. The command fails when the scan is degraded or a cycle is already running.

The cycle guard is held per process. A scan run by this command only waits for cycles of its own
process; a "serve" process elsewhere does not block it, and SQLite transactions keep the stored
results consistent. Use --server to run the scan inside a running "serve" process instead, where it
is rejected while a cycle runs.`,
	Args: cobra.ExactArgs(1),
	RunE: runScanCommand,
}

func init() {
	ScanCmd.Flags().StringVar(&allArgumentsScan.Format, "format", FormatJSON, "Output format: json or sarif")
	ScanCmd.Flags().StringVarP(&allArgumentsScan.OutputPath, "output", "o", "", "Write the report to this file instead of stdout")
	ScanCmd.Flags().BoolVar(&allArgumentsScan.Plans, "plans", false, "Include remediation plans for critical hits (json only)")
	ScanCmd.Flags().IntVar(&allArgumentsScan.History, "history", 0, "Print up to N stored results instead of scanning")
	ScanCmd.Flags().StringVar(&allArgumentsScan.Server, "server", "", "Base URL of a running serve listener that runs the scan")
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	if err := validateScanArgs(&allArgumentsScan); err != nil {
		return err
	}

	logger := logger.NewLogger(AppConfig, "core-scan")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if allArgumentsScan.Server != "" {
		client := httpclient.InitializeRestyClient(logger.Named("http"), AppConfig, httpclient.WithoutRetries())
		result, err := scanRemote(ctx, client, allArgumentsScan.Server, args[0])
		if err != nil {
			logger.Error("remote scan failed", "repository", args[0], "server", allArgumentsScan.Server, "error", err)
			return err
		}
		return report(cmd, logger, result, nil)
	}

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

	if allArgumentsScan.History > 0 {
		history, err := a.Orchestrator.History(ctx, args[0], allArgumentsScan.History)
		if err != nil {
			return err
		}
		data, err := renderJSON(history)
		if err != nil {
			return err
		}
		return output(cmd, allArgumentsScan.OutputPath, data)
	}

	result, err := a.Orchestrator.ScanRepository(ctx, args[0])
	if err != nil {
		logger.Error("scan failed", "repository", args[0], "error", err)
		return err
	}

	var plans []shared.RemediationPlan
	if allArgumentsScan.Plans {
		plans = a.Orchestrator.Plans(ctx, result)
	}
	return report(cmd, logger, result, plans)
}

// report writes the result and fails when the scan was degraded.
func report(cmd *cobra.Command, logger hclog.Logger, result shared.ScanResult, plans []shared.RemediationPlan) error {
	data, err := render(allArgumentsScan.Format, result, plans)
	if err != nil {
		return err
	}
	if err := output(cmd, allArgumentsScan.OutputPath, data); err != nil {
		return err
	}

	if result.Error != "" {
		return fmt.Errorf("scan of %s is degraded: %s", result.RepositoryID, result.Error)
	}
	logger.Info("scan completed", "repository", result.RepositoryID,
		"critical_hits", result.CriticalHitCount, "low_priority", result.LowPriorityCount)
	return nil
}

func output(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	expanded, err := files.ExpandPath(path)
	if err != nil {
		return fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	return files.WriteFile(afero.NewOsFs(), expanded, data)
}
