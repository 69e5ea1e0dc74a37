package register

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gitsight/go-vcsurl"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/vulnimpact/internal/app"
	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/logger"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// RunOptionsRegister holds the arguments for the register command.
type RunOptionsRegister struct {
	Ecosystem    string        `json:"ecosystem,omitempty"`
	ManifestPath string        `json:"manifest_path,omitempty"`
	LockfilePath string        `json:"lockfile_path,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	Interval     time.Duration `json:"interval,omitempty"`
}

var (
	AppConfig            *config.Config
	allArgumentsRegister RunOptionsRegister
	exampleRegisterUsage = `  # Monitor an npm repository with the default package.json manifest
  vulnimpact register acme/web

  # Register by URL
  vulnimpact register https://github.com/acme/web.git

  # Monitor a Go module on a release branch every six hours
  vulnimpact register acme/api --ecosystem go --branch release --interval 6h`
)

var RegisterCmd = &cobra.Command{
	Use:                   "register OWNER/NAME|URL [--ecosystem ECOSYSTEM] [--manifest PATH] [--lockfile PATH] [--branch BRANCH] [--interval DURATION]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleRegisterUsage,
	Short:                 "Starts monitoring a repository",
	Long: `Registers a repository for scheduled scans. Registering a repository that is already known
prints the stored registration and leaves it unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegisterCommand,
}

func init() {
	RegisterCmd.Flags().StringVar(&allArgumentsRegister.Ecosystem, "ecosystem", shared.EcosystemNPM, "Package ecosystem of the repository")
	RegisterCmd.Flags().StringVar(&allArgumentsRegister.ManifestPath, "manifest", "", "Manifest path inside the repository (defaults to the ecosystem's manifest)")
	RegisterCmd.Flags().StringVar(&allArgumentsRegister.LockfilePath, "lockfile", "", "Lockfile path inside the repository")
	RegisterCmd.Flags().StringVar(&allArgumentsRegister.Branch, "branch", "", "Branch to scan (defaults to the host's default branch)")
	RegisterCmd.Flags().DurationVar(&allArgumentsRegister.Interval, "interval", 0, "Minimum time between scans (defaults to scan.default_interval)")
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runRegisterCommand(cmd *cobra.Command, args []string) error {
	id, err := repositoryID(args[0])
	if err != nil {
		return err
	}
	if allArgumentsRegister.Interval < 0 {
		return fmt.Errorf("the 'interval' flag must not be negative")
	}

	logger := logger.NewLogger(AppConfig, "core-register")
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

	stored, created, err := a.Orchestrator.RegisterRepository(ctx, shared.RepositoryRegistration{
		ID:            id,
		DefaultBranch: allArgumentsRegister.Branch,
		Ecosystem:     allArgumentsRegister.Ecosystem,
		ManifestPath:  allArgumentsRegister.ManifestPath,
		LockfilePath:  allArgumentsRegister.LockfilePath,
		ScanInterval:  allArgumentsRegister.Interval,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(struct {
		Created    bool                          `json:"created"`
		Repository shared.RepositoryRegistration `json:"repository"`
	}{created, stored}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// repositoryID accepts either "owner/name" or a repository URL.
func repositoryID(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") && !strings.HasPrefix(arg, "git@") {
		ref, err := shared.ParseRepositoryID(arg)
		if err != nil {
			return "", err
		}
		return ref.String(), nil
	}

	info, err := vcsurl.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL %q: %w", arg, err)
	}
	name := info.FullName
	if name == "" {
		name = info.Username + "/" + info.Name
	}
	ref, err := shared.ParseRepositoryID(name)
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}
