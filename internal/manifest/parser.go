// Package manifest resolves a repository's declared and locked dependencies
// into normalized package records.
package manifest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// Parser extracts packages for one ecosystem.
type Parser interface {
	// Ecosystem is the tag stamped on every produced record.
	Ecosystem() string
	// DefaultManifest and DefaultLockfile are the conventional file names.
	DefaultManifest() string
	DefaultLockfile() string
	// ParseManifest returns the direct dependencies declared in a manifest.
	ParseManifest(path string, content []byte) ([]shared.PackageRecord, error)
	// ParseLockfile returns the transitive dependencies in a lockfile.
	// Malformed entries are skipped rather than reported.
	ParseLockfile(path string, content []byte) ([]shared.PackageRecord, error)
}

// Registry maps ecosystem tags to parsers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// DefaultRegistry returns a registry with the npm and Go parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewNPMParser())
	r.Register(NewGoParser())
	return r
}

// Register adds or replaces the parser for its ecosystem.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[strings.ToLower(p.Ecosystem())] = p
}

// Lookup returns the parser for an ecosystem tag, matched case-insensitively.
func (r *Registry) Lookup(ecosystem string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToLower(strings.TrimSpace(ecosystem))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEcosystem, ecosystem)
	}
	return p, nil
}

// Ecosystems lists the registered ecosystem tags in sorted order.
func (r *Registry) Ecosystems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.MapToSlice(r.parsers, func(_ string, p Parser) string {
		return p.Ecosystem()
	})
	sort.Strings(names)
	return names
}
