package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidateConfig checks if the global configurations have valid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("YAML global config: configuration object is nil")
	}
	if err := ValidateHTTPConfig(&cfg.HTTPClient); err != nil {
		return fmt.Errorf("YAML global config: http_client directive is invalid: %w", err)
	}
	if err := ValidateGitConfig(&cfg.GitClient); err != nil {
		return fmt.Errorf("YAML global config: git_client directive is invalid: %w", err)
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("YAML global config: storage directive is invalid: %w", err)
	}
	if err := validateScheduler(&cfg.Scheduler); err != nil {
		return fmt.Errorf("YAML global config: scheduler directive is invalid: %w", err)
	}
	if err := validateScan(&cfg.Scan); err != nil {
		return fmt.Errorf("YAML global config: scan directive is invalid: %w", err)
	}
	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("YAML global config: source directive is invalid: %w", err)
	}
	if err := validateRemediation(&cfg.Remediation); err != nil {
		return fmt.Errorf("YAML global config: remediation directive is invalid: %w", err)
	}
	if err := validateReasoning(&cfg.Reasoning); err != nil {
		return fmt.Errorf("YAML global config: reasoning directive is invalid: %w", err)
	}
	if err := validateIntelligence(&cfg.Intelligence); err != nil {
		return fmt.Errorf("YAML global config: intelligence directive is invalid: %w", err)
	}
	if err := validateUsage(&cfg.Usage); err != nil {
		return fmt.Errorf("YAML global config: usage directive is invalid: %w", err)
	}
	return nil
}

// ValidateGitConfig checks if the Git configurations have valid values.
func ValidateGitConfig(gitConfig *GitClient) error {
	if gitConfig == nil {
		return fmt.Errorf("git configuration is nil")
	}

	if err := validateDuration(gitConfig.Timeout, "timeout", 1*time.Hour); err != nil {
		return err
	}
	if gitConfig.Depth < 0 {
		return fmt.Errorf("depth cannot be negative: %d", gitConfig.Depth)
	}
	switch gitConfig.AuthType {
	case "http", "ssh-key", "ssh-agent", "none":
	default:
		return fmt.Errorf("auth_type %q is not one of http, ssh-key, ssh-agent, none", gitConfig.AuthType)
	}
	if gitConfig.AuthType == "ssh-key" && gitConfig.SSHKey == "" {
		return fmt.Errorf("ssh_key is required for the ssh-key auth type")
	}
	return nil
}

// ValidateHTTPConfig checks if the HTTP configurations have valid values.
func ValidateHTTPConfig(httpConfig *HTTPClient) error {
	if httpConfig == nil {
		return fmt.Errorf("HTTP configuration is nil")
	}
	if httpConfig.RetryCount < 0 || httpConfig.RetryCount > 20 {
		return fmt.Errorf("retry_count must be between 0 and 20: %d", httpConfig.RetryCount)
	}

	durations := map[string]time.Duration{
		"RetryMaxWaitTime": httpConfig.RetryMaxWaitTime,
		"RetryWaitTime":    httpConfig.RetryWaitTime,
		"Timeout":          httpConfig.Timeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 100*time.Second); err != nil {
			return err
		}
	}

	if err := validateProxy(&httpConfig.Proxy); err != nil {
		return err
	}

	return nil
}

func validateStorage(storage *Storage) error {
	switch storage.Driver {
	case StorageSQLite:
		if storage.Path == "" {
			return fmt.Errorf("path is required for the %s driver", StorageSQLite)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("driver %q is not one of %s, %s", storage.Driver, StorageSQLite, StorageMemory)
	}
	return nil
}

func validateScheduler(scheduler *Scheduler) error {
	if scheduler.Cron != "" && scheduler.Interval != 0 {
		return fmt.Errorf("interval and cron are mutually exclusive")
	}
	if scheduler.Cron == "" && scheduler.Interval < time.Minute {
		return fmt.Errorf("interval must be at least 1m, got %v", scheduler.Interval)
	}
	return nil
}

func validateScan(scan *Scan) error {
	if scan.Workers < 1 || scan.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64: %d", scan.Workers)
	}
	if err := validateDuration(scan.RepositoryTimeout, "repository_timeout", 2*time.Hour); err != nil {
		return err
	}
	if scan.DefaultInterval < 0 {
		return fmt.Errorf("default_interval cannot be negative: %v", scan.DefaultInterval)
	}
	return nil
}

func validateSource(source *Source) error {
	switch source.Kind {
	case SourcePlugin:
		if source.PluginName == "" {
			return fmt.Errorf("plugin_name is required for the %s source", SourcePlugin)
		}
	case SourceGit:
		if source.Workdir == "" || source.GitHost == "" {
			return fmt.Errorf("workdir and git_host are required for the %s source", SourceGit)
		}
	case SourceLocal:
		if source.LocalRoot == "" {
			return fmt.Errorf("local_root is required for the %s source", SourceLocal)
		}
	default:
		return fmt.Errorf("kind %q is not one of %s, %s, %s", source.Kind, SourcePlugin, SourceGit, SourceLocal)
	}
	return validateDuration(source.PluginTimeout, "plugin_timeout", 30*time.Minute)
}

func validateRemediation(remediation *Remediation) error {
	switch remediation.Mode {
	case RemediationPlugin, RemediationDryRun:
	default:
		return fmt.Errorf("mode %q is not one of %s, %s", remediation.Mode, RemediationPlugin, RemediationDryRun)
	}
	return nil
}

func validateReasoning(reasoning *Reasoning) error {
	if reasoning.Endpoint != "" {
		if err := validateURL(reasoning.Endpoint); err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
	}
	return validateDuration(reasoning.Timeout, "timeout", 10*time.Minute)
}

func validateIntelligence(intel *Intelligence) error {
	if err := validateURL(intel.GHSA.URL); err != nil {
		return fmt.Errorf("ghsa url: %w", err)
	}
	if intel.GHSA.PerPage < 1 || intel.GHSA.PerPage > 100 {
		return fmt.Errorf("ghsa per_page must be between 1 and 100: %d", intel.GHSA.PerPage)
	}
	if err := validateURL(intel.KEV.URL); err != nil {
		return fmt.Errorf("kev url: %w", err)
	}
	return nil
}

func validateUsage(usage *Usage) error {
	if usage.Concurrency < 1 || usage.Concurrency > 256 {
		return fmt.Errorf("concurrency must be between 1 and 256: %d", usage.Concurrency)
	}
	for ecosystem, set := range usage.Patterns {
		for _, ext := range set.Extensions {
			if !strings.HasPrefix(ext, ".") {
				return fmt.Errorf("%s: extension %q must start with a dot", ecosystem, ext)
			}
		}
		for _, p := range set.Patterns {
			re, err := regexp.Compile(p.Expr)
			if err != nil {
				return fmt.Errorf("%s: pattern %q does not compile: %w", ecosystem, p.Expr, err)
			}
			if re.NumSubexp() < 1 {
				return fmt.Errorf("%s: pattern %q needs a capture group for the module specifier", ecosystem, p.Expr)
			}
			if p.Scope != "" {
				if _, err := regexp.Compile(p.Scope); err != nil {
					return fmt.Errorf("%s: scope %q does not compile: %w", ecosystem, p.Scope, err)
				}
			}
		}
	}
	return nil
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid duration for %s: %v cannot be negative", name, d)
	}
	if d > max {
		return fmt.Errorf("%s duration is too long: %v exceeds maximum of %v", name, d, max)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	return nil
}

// validateProxy checks if the given Proxy settings are valid.
func validateProxy(proxy *Proxy) error {
	if proxy == nil {
		return fmt.Errorf("proxy configuration is nil")
	}

	// If host or port is not set, skip further validation
	if proxy.Host == "" || proxy.Port == 0 {
		return nil
	}

	if err := validateHost(&proxy.Host); err != nil {
		return err
	}

	if err := validatePort(proxy.Port); err != nil {
		return err
	}

	return nil
}

// validateHost checks if the host part of the proxy configuration is valid.
// It ensures the host includes a scheme; adds "http" if missing.
func validateHost(host *string) error {
	if host == nil {
		return fmt.Errorf("host string pointer is nil")
	}

	if !strings.Contains(*host, "://") {
		*host = "http://" + *host
	}
	*host = strings.TrimRight(*host, "/")

	_, err := url.Parse(*host)
	if err != nil {
		return fmt.Errorf("invalid host URL: %w", err)
	}

	return nil
}

// validatePort checks if the port part of the proxy configuration is valid.
func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
