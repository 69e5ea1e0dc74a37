package git

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/hashicorp/go-hclog"

	crssh "golang.org/x/crypto/ssh"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
)

// Authentication types accepted in git_client.auth_type.
const (
	AuthHTTP     = "http"
	AuthSSHKey   = "ssh-key"
	AuthSSHAgent = "ssh-agent"
)

// Client clones and refreshes monitored repositories.
type Client struct {
	logger   hclog.Logger
	auth     transport.AuthMethod
	authType string
	timeout  time.Duration
	depth    int
	insecure bool
}

// Authenticator defines an interface for different authentication methods.
type Authenticator interface {
	SetupAuth(cfg config.GitClient, logger hclog.Logger) (transport.AuthMethod, error)
	ValidateConfig(cfg config.GitClient) error
}

// SSHKeyAuthenticator provides SSH key-based authentication.
type SSHKeyAuthenticator struct{}

// SSHAgentAuthenticator provides SSH agent-based authentication.
type SSHAgentAuthenticator struct{}

// HTTPAuthenticator provides HTTP basic authentication.
type HTTPAuthenticator struct{}

// SetupAuth configures SSH key authentication.
func (s *SSHKeyAuthenticator) SetupAuth(cfg config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH key authentication")

	sshKeyPath, err := files.ExpandPath(cfg.SSHKey)
	if err != nil {
		logger.Error("failed to expand SSH key path", "path", cfg.SSHKey, "error", err)
		return nil, err
	}

	auth, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, cfg.SSHKeyPassword)
	if err != nil {
		logger.Error("failed to set up SSH key authentication", "error", err.Error())
		return nil, err
	}
	callback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{HostKeyCallback: callback}
	return auth, nil
}

// ValidateConfig validates the configuration for SSHKeyAuthenticator.
func (s *SSHKeyAuthenticator) ValidateConfig(cfg config.GitClient) error {
	if cfg.SSHKey == "" {
		return fmt.Errorf("ssh_key is required for ssh-key authentication")
	}
	return nil
}

// SetupAuth configures SSH agent authentication.
func (s *SSHAgentAuthenticator) SetupAuth(cfg config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH agent authentication")

	auth, err := ssh.NewSSHAgentAuth("git")
	if err != nil {
		logger.Error("failed to set up SSH agent authentication", "error", err)
		return nil, err
	}
	callback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{HostKeyCallback: callback}
	return auth, nil
}

// ValidateConfig validates the configuration for SSHAgentAuthenticator.
func (s *SSHAgentAuthenticator) ValidateConfig(config.GitClient) error {
	return nil
}

// SetupAuth configures HTTP basic authentication. Without credentials the
// repository is cloned anonymously.
func (h *HTTPAuthenticator) SetupAuth(cfg config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	if cfg.Username == "" && cfg.Token == "" {
		logger.Debug("no HTTP credentials configured, cloning anonymously")
		return nil, nil
	}
	logger.Debug("setting up HTTP authentication")
	return &http.BasicAuth{
		Username: cfg.Username,
		Password: cfg.Token,
	}, nil
}

// ValidateConfig validates the configuration for HTTPAuthenticator.
func (h *HTTPAuthenticator) ValidateConfig(cfg config.GitClient) error {
	if cfg.Token != "" && cfg.Username == "" {
		return fmt.Errorf("username is required when a git token is set")
	}
	return nil
}

// hostKeyCallback verifies against known_hosts unless insecure_tls is set.
func hostKeyCallback(cfg config.GitClient) (crssh.HostKeyCallback, error) {
	if config.GetBoolValue(cfg, "InsecureTLS", false) {
		return crssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := ssh.NewKnownHostsCallback()
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return callback, nil
}

// getAuthenticator returns the appropriate Authenticator based on the authentication type.
func getAuthenticator(authType string) (Authenticator, error) {
	switch authType {
	case AuthSSHKey:
		return &SSHKeyAuthenticator{}, nil
	case AuthSSHAgent:
		return &SSHAgentAuthenticator{}, nil
	case AuthHTTP, "":
		return &HTTPAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", authType)
	}
}

// New initializes a new Git Client from the git_client configuration.
func New(logger hclog.Logger, cfg config.GitClient) (*Client, error) {
	authenticator, err := getAuthenticator(cfg.AuthType)
	if err != nil {
		logger.Error("unsupported authentication type", "error", err)
		return nil, fmt.Errorf("unsupported authentication type: %w", err)
	}

	if err := authenticator.ValidateConfig(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	auth, err := authenticator.SetupAuth(cfg, logger)
	if err != nil {
		logger.Error("failed to set up Git authentication", "error", err)
		return nil, fmt.Errorf("failed to set up Git authentication: %w", err)
	}

	return &Client{
		logger:   logger,
		auth:     auth,
		authType: config.SetThen(cfg.AuthType, AuthHTTP),
		timeout:  config.SetThen(cfg.Timeout, 10*time.Minute),
		depth:    config.SetThen(cfg.Depth, 1),
		insecure: config.GetBoolValue(cfg, "InsecureTLS", false),
	}, nil
}

// CloneURL builds the clone URL of namespace/repository on host for the
// configured authentication type.
func (c *Client) CloneURL(host, namespace, repository string) string {
	if c.authType == AuthSSHKey || c.authType == AuthSSHAgent {
		return fmt.Sprintf("git@%s:%s/%s.git", host, namespace, repository)
	}
	return fmt.Sprintf("https://%s/%s/%s.git", host, namespace, repository)
}
