package manifest

import (
	"context"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// Resolver turns a registration's manifest and lockfile into package records.
type Resolver struct {
	source   shared.SourceAccess
	registry *Registry
	logger   hclog.Logger
}

// NewResolver creates a resolver reading files through source.
func NewResolver(source shared.SourceAccess, registry *Registry, logger hclog.Logger) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Resolver{source: source, registry: registry, logger: logger}
}

// Registry exposes the parser registry used by the resolver.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve returns the repository's packages ordered by name, then file.
// A manifest that is absent or malformed degrades to an empty list; only an
// unknown ecosystem is reported as an error.
func (r *Resolver) Resolve(ctx context.Context, repo shared.RepositoryRegistration) ([]shared.PackageRecord, error) {
	parser, err := r.registry.Lookup(repo.Ecosystem)
	if err != nil {
		return nil, err
	}
	ref := repo.Ref()
	logger := r.logger.With("repository", repo.ID)

	manifestPath := repo.ManifestPath
	if manifestPath == "" {
		manifestPath = parser.DefaultManifest()
	}

	var pkgs []shared.PackageRecord
	content, err := r.source.GetManifest(ctx, ref, manifestPath)
	if err != nil {
		if errors.IsNotFound(err) {
			logger.Warn("manifest not found", "path", manifestPath)
		} else {
			logger.Warn("failed to retrieve manifest", "path", manifestPath, "error", err)
		}
		return []shared.PackageRecord{}, nil
	}
	direct, err := parser.ParseManifest(manifestPath, content)
	if err != nil {
		logger.Warn("failed to parse manifest", "path", manifestPath, "error", err)
		return []shared.PackageRecord{}, nil
	}
	pkgs = append(pkgs, direct...)

	if repo.LockfilePath != "" {
		lock, err := r.source.GetManifest(ctx, ref, repo.LockfilePath)
		switch {
		case errors.IsNotFound(err):
			logger.Warn("lockfile not found", "path", repo.LockfilePath)
		case err != nil:
			logger.Warn("failed to retrieve lockfile", "path", repo.LockfilePath, "error", err)
		default:
			transitive, err := parser.ParseLockfile(repo.LockfilePath, lock)
			if err != nil {
				logger.Warn("lockfile partially parsed", "path", repo.LockfilePath, "error", err)
			}
			pkgs = append(pkgs, transitive...)
		}
	}

	resolved := dedupe(pkgs)
	logger.Debug("packages resolved", "count", len(resolved))
	return resolved, nil
}

// dedupe keeps one record per (name, ecosystem, file, version), so differing
// nested copies of a package all stay visible. Direct entries win over
// transitive ones.
func dedupe(pkgs []shared.PackageRecord) []shared.PackageRecord {
	byKey := make(map[string]shared.PackageRecord, len(pkgs))
	for _, p := range pkgs {
		key := p.Key() + "@" + versionrange.Normalize(p.Version)
		prev, ok := byKey[key]
		if !ok || (p.IsDirect && !prev.IsDirect) {
			byKey[key] = p
		}
	}

	out := make([]shared.PackageRecord, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].SourceFile != out[j].SourceFile {
			return out[i].SourceFile < out[j].SourceFile
		}
		return versionrange.Compare(out[i].Version, out[j].Version) < 0
	})
	return out
}
