package source

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
)

// Fetcher clones or refreshes a repository into a folder.
type Fetcher interface {
	CloneURL(host, namespace, repository string) string
	Fetch(ctx context.Context, cloneURL, branch, targetFolder string) error
}

// Git keeps shallow checkouts under workdir and reads them like Local.
// Prepare must run before a repository is read; the orchestrator calls it once per scan.
type Git struct {
	*Local
	fetcher Fetcher
	host    string
	logger  hclog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ shared.Preparer = (*Git)(nil)

// NewGit creates a git-backed source. fs must be the filesystem the fetcher
// writes to, normally afero.NewOsFs().
func NewGit(fs afero.Fs, fetcher Fetcher, workdir, host string, logger hclog.Logger) *Git {
	return &Git{
		Local:   NewLocal(fs, workdir),
		fetcher: fetcher,
		host:    host,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Prepare clones or refreshes the checkout of ref.
func (g *Git) Prepare(ctx context.Context, ref shared.RepositoryRef) error {
	lock := g.lock(ref.String())
	lock.Lock()
	defer lock.Unlock()

	target, err := g.RepositoryDir(ref)
	if err != nil {
		return err
	}
	if err := files.CreateFolderIfNotExists(g.fs, g.root); err != nil {
		return err
	}

	url := g.fetcher.CloneURL(g.host, ref.Namespace, ref.Repository)
	g.logger.Debug("syncing checkout", "repository", ref.String(), "branch", ref.Branch)
	return g.fetcher.Fetch(ctx, url, ref.Branch, target)
}

func (g *Git) lock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	g.locks[id] = l
	return l
}
