// Package source reads repository content from local checkouts and records
// remediation plans when no source-control host is used.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
)

// Local serves repositories laid out as <root>/<namespace>/<repository>.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal creates a source over root on fs.
func NewLocal(fs afero.Fs, root string) *Local {
	return &Local{fs: fs, root: root}
}

// RepositoryDir returns the folder holding ref. It must lie strictly below the root.
func (l *Local) RepositoryDir(ref shared.RepositoryRef) (string, error) {
	dir := filepath.Join(l.root, filepath.FromSlash(ref.Namespace), ref.Repository)
	resolved, err := files.EnsureWithinRoot(l.root, dir)
	if err != nil {
		return "", fmt.Errorf("repository %s: %w", ref, err)
	}
	if root, err := files.EnsureWithinRoot(l.root, l.root); err == nil && resolved == root {
		return "", fmt.Errorf("repository %s resolves to the checkout root", ref)
	}
	return dir, nil
}

func (l *Local) GetManifest(ctx context.Context, ref shared.RepositoryRef, path string) ([]byte, error) {
	return l.GetFileContent(ctx, ref, path)
}

func (l *Local) GetFileContent(ctx context.Context, ref shared.RepositoryRef, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := files.CleanRelative(path)
	if err != nil {
		return nil, err
	}

	dir, err := l.RepositoryDir(ref)
	if err != nil {
		return nil, err
	}

	content, err := afero.ReadFile(l.fs, filepath.Join(dir, filepath.FromSlash(rel)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s in %s: %w", rel, ref, errors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in %s: %w", rel, ref, err)
	}
	return content, nil
}

// GetFileTree lists every regular file of the repository as a slash path,
// skipping the .git folder.
func (l *Local) GetFileTree(ctx context.Context, ref shared.RepositoryRef) ([]string, error) {
	dir, err := l.RepositoryDir(ref)
	if err != nil {
		return nil, err
	}
	exists, err := afero.DirExists(l.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", dir, err)
	}
	if !exists {
		return nil, fmt.Errorf("repository %s: %w", ref, errors.ErrNotFound)
	}

	var paths []string
	err = afero.Walk(l.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", ref, err)
	}
	sort.Strings(paths)
	return paths, nil
}
