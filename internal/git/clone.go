package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
)

// Fetch makes targetFolder a checkout of branch at cloneURL: a fresh shallow
// clone when the folder is empty, otherwise a fetch followed by a hard reset to
// the remote head. An empty branch follows the remote HEAD.
func (c *Client) Fetch(ctx context.Context, cloneURL, branch, targetFolder string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reference := determineBranch(branch)
	logger := c.logger.With("cloneURL", cloneURL, "targetFolder", targetFolder)

	logger.Debug("starting repository fetch", "branch", reference)
	repo, err := c.clone(ctx, cloneURL, reference, targetFolder)
	if err == nil {
		logger.Info("repository cloned", "branch", reference)
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		logger.Error("error occurred during clone", "error", err)
		return fmt.Errorf("error occurred during clone: %w", err)
	}

	logger.Debug("repository already exists, updating")
	repo, err = git.PlainOpen(targetFolder)
	if err != nil {
		logger.Error("cannot open existing repository", "error", err)
		return fmt.Errorf("cannot open existing repository: %w", err)
	}
	if err := checkOrigin(repo, cloneURL); err != nil {
		return err
	}

	if err := c.update(ctx, repo, reference, logger); err != nil {
		logger.Warn("update failed, cloning again", "error", err)
		if err := os.RemoveAll(targetFolder); err != nil {
			return fmt.Errorf("failed to remove repository: %w", err)
		}
		if _, err := c.clone(ctx, cloneURL, reference, targetFolder); err != nil {
			logger.Error("retrying clone failed", "error", err)
			return fmt.Errorf("retrying clone failed: %w", err)
		}
	}
	logger.Info("repository updated", "branch", reference)
	return nil
}

func (c *Client) clone(ctx context.Context, cloneURL string, reference plumbing.ReferenceName, targetFolder string) (*git.Repository, error) {
	return git.PlainCloneContext(ctx, targetFolder, false, &git.CloneOptions{
		Auth:            c.auth,
		URL:             cloneURL,
		ReferenceName:   reference,
		SingleBranch:    true,
		Depth:           c.depth,
		InsecureSkipTLS: c.insecure,
		Progress:        c.logger.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Trace}),
	})
}

// update fetches the remote branch and hard resets the worktree onto it.
func (c *Client) update(ctx context.Context, repo *git.Repository, reference plumbing.ReferenceName, logger hclog.Logger) error {
	if reference == "" {
		head, err := repo.Head()
		if err != nil {
			return fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		reference = head.Name()
	}

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName:      "origin",
		Auth:            c.auth,
		Depth:           c.depth,
		Force:           true,
		InsecureSkipTLS: c.insecure,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("error occurred during fetch: %w", err)
	}

	remote := plumbing.NewRemoteReferenceName("origin", reference.Short())
	target, err := repo.Reference(remote, true)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", remote, err)
	}

	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("error accessing worktree: %w", err)
	}
	logger.Debug("resetting local repository", "commit", target.Hash())
	if err := w.Reset(&git.ResetOptions{Commit: target.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("error occurred during reset: %w", err)
	}
	return nil
}

// checkOrigin refuses to reuse a folder that holds a different repository.
func checkOrigin(repo *git.Repository, cloneURL string) error {
	remote, err := repo.Remote("origin")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDifferentRepo, err)
	}
	for _, u := range remote.Config().URLs {
		if sameRepository(u, cloneURL) {
			return nil
		}
	}
	return ErrDifferentRepo
}

func sameRepository(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimSuffix(strings.TrimSpace(s), "/")
		return strings.ToLower(strings.TrimSuffix(s, ".git"))
	}
	return norm(a) == norm(b)
}
