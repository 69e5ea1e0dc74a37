package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scan-io-git/vulnimpact/cmd/deactivate"
	"github.com/scan-io-git/vulnimpact/cmd/register"
	"github.com/scan-io-git/vulnimpact/cmd/scan"
	"github.com/scan-io-git/vulnimpact/cmd/serve"
	"github.com/scan-io-git/vulnimpact/cmd/version"
	"github.com/scan-io-git/vulnimpact/internal/config"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "vulnimpact [command]",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Vulnimpact decides which known vulnerabilities actually endanger your repositories.",
		Long: `Vulnimpact continuously matches vulnerability intelligence against the dependencies of monitored
	repositories, confirms which vulnerable packages are really imported by source code and turns
	confirmed exposures into remediation plans.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $VULNIMPACT_CONFIG, then ./config.yml when present)")
	rootCmd.AddCommand(
		version.NewVersionCmd(),
		serve.ServeCmd,
		scan.ScanCmd,
		register.RegisterCmd,
		deactivate.DeactivateCmd,
	)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		return 1
	}
	return 0
}

func initConfig() {
	var err error

	AppConfig, err = config.NewConfig(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize config: %v\n", err)
		os.Exit(1)
	}

	version.Init(AppConfig)
	serve.Init(AppConfig)
	scan.Init(AppConfig)
	register.Init(AppConfig)
	deactivate.Init(AppConfig)
}

// configPath picks the flag, then the environment, then ./config.yml if it
// exists. An empty path runs on defaults.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv(config.EnvConfig); env != "" {
		return env
	}
	if config.ValidateConfigPath(config.DefaultConfigFileName) == nil {
		return config.DefaultConfigFileName
	}
	return ""
}

// normalizeFlagName accepts snake_case spellings of flags, as used in config keys.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
