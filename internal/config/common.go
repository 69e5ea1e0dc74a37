package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"time"
)

// Environment variables read on top of the YAML file.
const (
	EnvConfig             = "VULNIMPACT_CONFIG"
	EnvHome               = "VULNIMPACT_HOME"
	EnvLogLevel           = "VULNIMPACT_LOG_LEVEL"
	EnvGithubToken        = "VULNIMPACT_GITHUB_TOKEN"
	EnvReasoningAPIKey    = "VULNIMPACT_REASONING_API_KEY"
	EnvGitUsername        = "VULNIMPACT_GIT_USERNAME"
	EnvGitToken           = "VULNIMPACT_GIT_TOKEN"
	EnvGitSSHKeyPassword  = "VULNIMPACT_GIT_SSH_KEY_PASSWORD"
	EnvPluginsFolder      = "VULNIMPACT_PLUGINS_FOLDER"
	DefaultConfigFileName = "config.yml"
)

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"

	SourcePlugin = "plugin"
	SourceGit    = "git"
	SourceLocal  = "local"

	RemediationPlugin = "plugin"
	RemediationDryRun = "dry-run"
)

// BaseHTTPConfig holds common HTTP client configuration settings.
type BaseHTTPConfig struct {
	RetryCount       int           // Number of retries for failed requests
	RetryWaitTime    time.Duration // Wait time between retries
	RetryMaxWaitTime time.Duration // Maximum wait time for retries
	Timeout          time.Duration // Timeout for requests
	TLSClientConfig  *tls.Config   // TLS configuration
	Proxy            string        // Proxy address
}

// RestyHTTPClientConfig holds additional configuration settings for the Resty HTTP client.
type RestyHTTPClientConfig struct {
	BaseHTTPConfig
	Debug bool // Flag to enable Resty debug mode
}

// DefaultHTTPConfig returns a base configuration for HTTP clients with default values.
func DefaultHTTPConfig() BaseHTTPConfig {
	return BaseHTTPConfig{
		RetryCount:       3,
		RetryWaitTime:    1 * time.Second,
		RetryMaxWaitTime: 5 * time.Second,
		Timeout:          30 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
		Proxy: "",
	}
}

// DefaultRestyConfig returns a default configuration for the Resty HTTP client, extending the base HTTP configuration.
func DefaultRestyConfig() RestyHTTPClientConfig {
	return RestyHTTPClientConfig{
		BaseHTTPConfig: DefaultHTTPConfig(),
		Debug:          false,
	}
}

// DefaultUsageExcludeDirs lists directories never scanned for imports.
var DefaultUsageExcludeDirs = []string{"node_modules", "vendor", ".git", "dist", "build"}

// applyEnv overlays secrets and locations from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.HomeFolder = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(EnvGithubToken); v != "" {
		cfg.Intelligence.GHSA.Token = v
	}
	if v := os.Getenv(EnvReasoningAPIKey); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv(EnvPluginsFolder); v != "" {
		cfg.Source.PluginsFolder = v
	}
	cfg.GitClient.Username = os.Getenv(EnvGitUsername)
	cfg.GitClient.Token = os.Getenv(EnvGitToken)
	cfg.GitClient.SSHKeyPassword = os.Getenv(EnvGitSSHKeyPassword)
}

// applyDefaults fills every unset setting.
func applyDefaults(cfg *Config) {
	if cfg.HomeFolder == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HomeFolder = filepath.Join(home, ".vulnimpact")
		} else {
			cfg.HomeFolder = ".vulnimpact"
		}
	}

	cfg.Logger.Level = SetThen(cfg.Logger.Level, "INFO")

	cfg.GitClient.Depth = SetThen(cfg.GitClient.Depth, 1)
	cfg.GitClient.Timeout = SetThen(cfg.GitClient.Timeout, 10*time.Minute)
	cfg.GitClient.AuthType = SetThen(cfg.GitClient.AuthType, "http")

	cfg.Storage.Driver = SetThen(cfg.Storage.Driver, StorageSQLite)
	cfg.Storage.Path = SetThen(cfg.Storage.Path, filepath.Join(cfg.HomeFolder, "vulnimpact.db"))

	if cfg.Scheduler.Cron == "" {
		cfg.Scheduler.Interval = SetThen(cfg.Scheduler.Interval, time.Hour)
	}

	cfg.Scan.Workers = SetThen(cfg.Scan.Workers, 4)
	cfg.Scan.RepositoryTimeout = SetThen(cfg.Scan.RepositoryTimeout, 10*time.Minute)
	cfg.Scan.DefaultInterval = SetThen(cfg.Scan.DefaultInterval, 24*time.Hour)

	cfg.Source.Kind = SetThen(cfg.Source.Kind, SourceLocal)
	cfg.Source.PluginName = SetThen(cfg.Source.PluginName, "github")
	cfg.Source.PluginsFolder = SetThen(cfg.Source.PluginsFolder, filepath.Join(cfg.HomeFolder, "plugins"))
	cfg.Source.PluginTimeout = SetThen(cfg.Source.PluginTimeout, time.Minute)
	cfg.Source.LocalRoot = SetThen(cfg.Source.LocalRoot, filepath.Join(cfg.HomeFolder, "repositories"))
	cfg.Source.Workdir = SetThen(cfg.Source.Workdir, filepath.Join(cfg.HomeFolder, "checkouts"))
	cfg.Source.GitHost = SetThen(cfg.Source.GitHost, "github.com")

	cfg.Remediation.Mode = SetThen(cfg.Remediation.Mode, RemediationDryRun)
	cfg.Remediation.OutputFolder = SetThen(cfg.Remediation.OutputFolder, filepath.Join(cfg.HomeFolder, "plans"))

	cfg.Reasoning.Model = SetThen(cfg.Reasoning.Model, "gpt-4o-mini")
	cfg.Reasoning.Timeout = SetThen(cfg.Reasoning.Timeout, 60*time.Second)

	cfg.Intelligence.GHSA.URL = SetThen(cfg.Intelligence.GHSA.URL, "https://api.github.com")
	cfg.Intelligence.GHSA.Ecosystems = SetThen(cfg.Intelligence.GHSA.Ecosystems, []string{"npm", "go"})
	cfg.Intelligence.GHSA.PerPage = SetThen(cfg.Intelligence.GHSA.PerPage, 100)
	cfg.Intelligence.GHSA.MaxPages = SetThen(cfg.Intelligence.GHSA.MaxPages, 10)
	cfg.Intelligence.KEV.URL = SetThen(cfg.Intelligence.KEV.URL,
		"https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json")

	cfg.Usage.Concurrency = SetThen(cfg.Usage.Concurrency, 8)
	cfg.Usage.ExcludeDirs = SetThen(cfg.Usage.ExcludeDirs, DefaultUsageExcludeDirs)
}
