// Package vcs talks to the source-control plugin over go-plugin RPC.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// Client adapts a VCS plugin to the source access and remediation interfaces.
// Every call is bounded by the configured timeout and the caller's context.
type Client struct {
	logger  hclog.Logger
	vcs     shared.VCS
	timeout time.Duration
	plugin  *plugin.Client
}

var (
	_ shared.SourceAccess = (*Client)(nil)
	_ shared.Remediator   = (*Client)(nil)
)

// Open launches the plugin binary pluginsFolder/name and dispenses its VCS implementation.
func Open(logger hclog.Logger, pluginsFolder, name string, timeout time.Duration) (*Client, error) {
	pluginPath := filepath.Join(pluginsFolder, name)
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.HandshakeConfig,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(pluginPath),
		Logger:           logger.Named("plugin"),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to start plugin %q: %w", pluginPath, err)
	}
	raw, err := rpcClient.Dispense(shared.PluginTypeVCS)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense %s plugin: %w", shared.PluginTypeVCS, err)
	}
	vcs, ok := raw.(shared.VCS)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %q does not implement the VCS interface", name)
	}

	c := NewClient(logger, vcs, timeout)
	c.plugin = client
	return c, nil
}

// NewClient wraps an already dispensed VCS implementation.
func NewClient(logger hclog.Logger, vcs shared.VCS, timeout time.Duration) *Client {
	return &Client{logger: logger, vcs: vcs, timeout: timeout}
}

// Close stops the plugin process, if the client started one.
func (c *Client) Close() {
	if c.plugin != nil {
		c.plugin.Kill()
	}
}

func (c *Client) GetManifest(ctx context.Context, ref shared.RepositoryRef, path string) ([]byte, error) {
	return c.GetFileContent(ctx, ref, path)
}

func (c *Client) GetFileContent(ctx context.Context, ref shared.RepositoryRef, path string) ([]byte, error) {
	resp, err := call(ctx, c.timeout, func() (shared.VCSGetFileResponse, error) {
		return c.vcs.GetFile(shared.VCSGetFileRequest{VCSRequestBase: shared.NewVCSRequestBase(ref), Path: path})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from %s: %w", path, ref, err)
	}
	if !resp.Found {
		return nil, fmt.Errorf("%s in %s: %w", path, ref, errors.ErrNotFound)
	}
	return resp.Content, nil
}

func (c *Client) GetFileTree(ctx context.Context, ref shared.RepositoryRef) ([]string, error) {
	files, err := call(ctx, c.timeout, func() ([]string, error) {
		return c.vcs.GetFileTree(shared.VCSGetFileTreeRequest{VCSRequestBase: shared.NewVCSRequestBase(ref)})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", ref, err)
	}
	return files, nil
}

func (c *Client) CreateRemediationRequest(ctx context.Context, ref shared.RepositoryRef, packageName, targetVersion, title, body string) (shared.RemediationResponse, error) {
	resp, err := call(ctx, c.timeout, func() (shared.RemediationResponse, error) {
		return c.vcs.CreateRemediationRequest(shared.VCSRemediationRequest{
			VCSRequestBase: shared.NewVCSRequestBase(ref),
			PackageName:    packageName,
			TargetVersion:  targetVersion,
			Title:          title,
			Body:           body,
		})
	})
	if err != nil {
		return shared.RemediationResponse{}, fmt.Errorf("failed to create remediation request in %s: %w", ref, err)
	}
	c.logger.Debug("remediation request created", "repository", ref.String(), "id", resp.ID, "url", resp.URL)
	return resp, nil
}

// call runs f and gives up waiting when ctx is done or timeout elapses.
// net/rpc calls cannot be cancelled, so an abandoned call finishes in the background.
func call[T any](ctx context.Context, timeout time.Duration, f func() (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
