package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/go-github/v47/github"
	"golang.org/x/oauth2"
)

const (
	EnvToken    = "VULNIMPACT_GITHUB_TOKEN"
	EnvAPIURL   = "VULNIMPACT_GITHUB_API_URL"
	EnvLogLevel = "VULNIMPACT_GITHUB_LOG_LEVEL"
)

// PluginConfig holds the plugin settings taken from the environment of the core process.
type PluginConfig struct {
	Token  string
	APIURL string
}

// configFromEnv reads the plugin settings from environment variables.
func configFromEnv() PluginConfig {
	return PluginConfig{
		Token:  os.Getenv(EnvToken),
		APIURL: os.Getenv(EnvAPIURL),
	}
}

// newClient creates a GitHub API client. A token switches to authenticated
// access and an API URL points the client at GitHub Enterprise.
func newClient(cfg PluginConfig) (*github.Client, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), src)
	}

	if cfg.APIURL == "" {
		return github.NewClient(httpClient), nil
	}
	base := strings.TrimRight(cfg.APIURL, "/") + "/"
	client, err := github.NewEnterpriseClient(base, base, httpClient)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", cfg.APIURL, err)
	}
	return client, nil
}
