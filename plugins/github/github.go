package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/go-github/v47/github"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// VCSGithub implements shared.VCS on top of the GitHub REST API.
type VCSGithub struct {
	logger        hclog.Logger
	client        *github.Client
	authenticated bool
}

// NewVCSGithub creates the GitHub implementation of the VCS contract.
func NewVCSGithub(logger hclog.Logger, client *github.Client, authenticated bool) *VCSGithub {
	return &VCSGithub{
		logger:        logger,
		client:        client,
		authenticated: authenticated,
	}
}

// GetFile returns the content of a file. Absent files are reported as errors.ErrNotFound.
func (g *VCSGithub) GetFile(req shared.VCSGetFileRequest) (shared.VCSGetFileResponse, error) {
	g.logger.Debug("GetFile called", "namespace", req.Namespace, "repository", req.Repository, "branch", req.Branch, "path", req.Path)
	if err := validateGetFile(req); err != nil {
		return shared.VCSGetFileResponse{}, err
	}

	ctx := context.Background()
	opts := &github.RepositoryContentGetOptions{Ref: req.Branch}
	file, _, resp, err := g.client.Repositories.GetContents(ctx, req.Namespace, req.Repository, req.Path, opts)
	if isNotFound(resp, err) {
		return shared.VCSGetFileResponse{}, errors.ErrNotFound
	}
	if err != nil {
		return shared.VCSGetFileResponse{}, fmt.Errorf("failed to get %s from %s/%s: %w", req.Path, req.Namespace, req.Repository, err)
	}
	if file == nil {
		// a directory lives at this path
		return shared.VCSGetFileResponse{}, errors.ErrNotFound
	}

	content, err := file.GetContent()
	if err != nil {
		return shared.VCSGetFileResponse{}, fmt.Errorf("failed to decode %s: %w", req.Path, err)
	}
	return shared.VCSGetFileResponse{Found: true, Content: []byte(content)}, nil
}

// GetFileTree lists every file path of the branch, or of the default branch when none is set.
func (g *VCSGithub) GetFileTree(req shared.VCSGetFileTreeRequest) ([]string, error) {
	g.logger.Debug("GetFileTree called", "namespace", req.Namespace, "repository", req.Repository, "branch", req.Branch)
	if err := validateRequestBase(req.VCSRequestBase); err != nil {
		return nil, err
	}

	ctx := context.Background()
	branch, err := g.branchOrDefault(ctx, req.VCSRequestBase)
	if err != nil {
		return nil, err
	}

	tree, _, err := g.client.Git.GetTree(ctx, req.Namespace, req.Repository, branch, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s/%s@%s: %w", req.Namespace, req.Repository, branch, err)
	}
	if tree.GetTruncated() {
		g.logger.Warn("file tree truncated by the API, usage detection sees a partial tree",
			"repository", req.Namespace+"/"+req.Repository, "entries", len(tree.Entries))
	}

	files := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			files = append(files, entry.GetPath())
		}
	}
	return files, nil
}

// CreateRemediationRequest commits the plan to a dedicated branch and opens a
// pull request for it. An open pull request for the same branch is returned as is.
func (g *VCSGithub) CreateRemediationRequest(req shared.VCSRemediationRequest) (shared.RemediationResponse, error) {
	g.logger.Debug("CreateRemediationRequest called", "namespace", req.Namespace, "repository", req.Repository, "package", req.PackageName, "version", req.TargetVersion)
	if err := g.validateRemediation(req); err != nil {
		return shared.RemediationResponse{}, err
	}

	ctx := context.Background()
	owner, repo := req.Namespace, req.Repository
	base, err := g.branchOrDefault(ctx, req.VCSRequestBase)
	if err != nil {
		return shared.RemediationResponse{}, err
	}
	head := remediationBranch(req.PackageName, req.TargetVersion)

	created, err := g.createBranch(ctx, owner, repo, base, head)
	if err != nil {
		return shared.RemediationResponse{}, err
	}
	if !created {
		if pr, err := g.openPullRequest(ctx, owner, repo, head); err != nil {
			return shared.RemediationResponse{}, err
		} else if pr != nil {
			g.logger.Info("pull request already open", "repository", owner+"/"+repo, "url", pr.GetHTMLURL())
			return toRemediationResponse(pr), nil
		}
	}

	if err := g.commitPlan(ctx, owner, repo, head, req); err != nil {
		return shared.RemediationResponse{}, err
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return shared.RemediationResponse{}, fmt.Errorf("failed to open pull request for %s: %w", head, err)
	}
	g.logger.Info("pull request opened", "repository", owner+"/"+repo, "url", pr.GetHTMLURL())
	return toRemediationResponse(pr), nil
}

func (g *VCSGithub) branchOrDefault(ctx context.Context, req shared.VCSRequestBase) (string, error) {
	if req.Branch != "" {
		return req.Branch, nil
	}
	repository, resp, err := g.client.Repositories.Get(ctx, req.Namespace, req.Repository)
	if isNotFound(resp, err) {
		return "", fmt.Errorf("repository %s/%s: %w", req.Namespace, req.Repository, errors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get repository %s/%s: %w", req.Namespace, req.Repository, err)
	}
	return repository.GetDefaultBranch(), nil
}

// createBranch creates head from the tip of base. It returns false when head already exists.
func (g *VCSGithub) createBranch(ctx context.Context, owner, repo, base, head string) (bool, error) {
	baseRef, _, err := g.client.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return false, fmt.Errorf("failed to resolve branch %s: %w", base, err)
	}

	_, resp, err := g.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + head),
		Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
	})
	if refExists(resp, err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create branch %s: %w", head, err)
	}
	return true, nil
}

func (g *VCSGithub) openPullRequest(ctx context.Context, owner, repo, head string) (*github.PullRequest, error) {
	prs, _, err := g.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + head,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests for %s: %w", head, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

// commitPlan writes the plan file on the branch, replacing an earlier version.
func (g *VCSGithub) commitPlan(ctx context.Context, owner, repo, branch string, req shared.VCSRemediationRequest) error {
	path := planFile(req.PackageName, req.TargetVersion)
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Add remediation plan for %s %s", req.PackageName, req.TargetVersion)),
		Content: []byte(req.Body),
		Branch:  github.String(branch),
	}

	existing, _, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case isNotFound(resp, err):
		if _, _, err := g.client.Repositories.CreateFile(ctx, owner, repo, path, opts); err != nil {
			return fmt.Errorf("failed to commit %s: %w", path, err)
		}
	case err != nil:
		return fmt.Errorf("failed to check %s: %w", path, err)
	default:
		opts.SHA = existing.SHA
		if _, _, err := g.client.Repositories.UpdateFile(ctx, owner, repo, path, opts); err != nil {
			return fmt.Errorf("failed to update %s: %w", path, err)
		}
	}
	return nil
}

func toRemediationResponse(pr *github.PullRequest) shared.RemediationResponse {
	return shared.RemediationResponse{
		ID:  strconv.Itoa(pr.GetNumber()),
		URL: pr.GetHTMLURL(),
	}
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Level:      hclog.LevelFromString(os.Getenv(EnvLogLevel)),
		Output:     os.Stderr,
		JSONFormat: true,
	})

	cfg := configFromEnv()
	client, err := newClient(cfg)
	if err != nil {
		logger.Error("failed to create GitHub client", "error", err)
		os.Exit(1)
	}
	if cfg.Token == "" {
		logger.Warn("no token provided, anonymous API access is rate limited and cannot open pull requests")
	}

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			shared.PluginTypeVCS: &shared.VCSPlugin{Impl: NewVCSGithub(logger, client, cfg.Token != "")},
		},
	})
}
