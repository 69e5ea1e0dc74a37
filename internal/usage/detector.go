// Package usage decides whether dependencies are referenced by source code.
package usage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// Detector scans repository source files for import statements.
type Detector struct {
	source      shared.SourceAccess
	logger      hclog.Logger
	sets        map[string]compiledSet
	excludeDirs map[string]struct{}
	concurrency int
	now         func() time.Time
}

type options struct {
	sets        []PatternSet
	excludeDirs []string
	concurrency int
	now         func() time.Time
}

// Option configures a Detector.
type Option func(*options)

// WithPatternSet adds a pattern set. Sets for an already known ecosystem extend it.
func WithPatternSet(set PatternSet) Option {
	return func(o *options) { o.sets = append(o.sets, set) }
}

// WithExcludeDirs replaces the directories skipped during the tree walk.
func WithExcludeDirs(dirs []string) Option {
	return func(o *options) { o.excludeDirs = dirs }
}

// WithConcurrency bounds the number of files fetched at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithClock overrides the analysis timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewDetector builds a detector over the default pattern sets plus any given ones.
func NewDetector(source shared.SourceAccess, logger hclog.Logger, opts ...Option) (*Detector, error) {
	o := options{
		sets:        DefaultPatternSets(),
		excludeDirs: config.DefaultUsageExcludeDirs,
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Detector{
		source:      source,
		logger:      logger,
		sets:        make(map[string]compiledSet),
		excludeDirs: make(map[string]struct{}, len(o.excludeDirs)),
		concurrency: o.concurrency,
		now:         o.now,
	}
	for _, set := range mergeSets(o.sets) {
		cs, err := compileSet(set)
		if err != nil {
			return nil, fmt.Errorf("%s usage patterns: %w", set.Ecosystem, err)
		}
		d.sets[strings.ToLower(set.Ecosystem)] = cs
	}
	for _, dir := range o.excludeDirs {
		d.excludeDirs[dir] = struct{}{}
	}
	return d, nil
}

// Ecosystems lists the ecosystems the detector has patterns for.
func (d *Detector) Ecosystems() []string {
	names := lo.MapToSlice(d.sets, func(_ string, cs compiledSet) string { return cs.ecosystem })
	sort.Strings(names)
	return names
}

// Detect reports how source code references a single package.
func (d *Detector) Detect(ctx context.Context, repo shared.RepositoryRef, name, ecosystem string) (shared.UsageRecord, error) {
	records, err := d.DetectAll(ctx, repo, ecosystem, []string{name})
	if err != nil {
		return shared.UsageRecord{}, err
	}
	return records[name], nil
}

type accumulator struct {
	files    []string
	patterns []string
	count    int
}

// DetectAll reports usage for several packages with a single pass over the tree.
// The result has an entry for every requested name.
func (d *Detector) DetectAll(ctx context.Context, repo shared.RepositoryRef, ecosystem string, names []string) (map[string]shared.UsageRecord, error) {
	set, ok := d.sets[strings.ToLower(ecosystem)]
	if !ok {
		return nil, fmt.Errorf("%w: no usage patterns for %q", errors.ErrUnknownEcosystem, ecosystem)
	}
	names = lo.Uniq(names)

	tree, err := d.source.GetFileTree(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", repo, err)
	}
	candidates := lo.Filter(tree, func(file string, _ int) bool {
		return d.candidate(set, file)
	})
	d.logger.Debug("scanning source files", "repository", repo.String(), "files", len(candidates), "packages", len(names))

	acc := make(map[string]*accumulator, len(names))
	for _, name := range names {
		acc[name] = &accumulator{}
	}
	var mu sync.Mutex
	var failed int

	shared.ForEachBounded(d.concurrency, candidates, func(_ int, file string) {
		if ctx.Err() != nil {
			return
		}
		content, err := d.source.GetFileContent(ctx, repo, file)
		if err != nil {
			if !errors.IsNotFound(err) {
				d.logger.Debug("failed to read source file", "file", file, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return
		}

		refs := set.references(string(content))
		if len(refs) == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, ref := range refs {
			for _, name := range names {
				if !referencesPackage(ref.specifier, name) {
					continue
				}
				a := acc[name]
				a.files = append(a.files, file)
				a.patterns = append(a.patterns, ref.statement)
				a.count++
			}
		}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed > 0 {
		d.logger.Warn("some source files could not be read", "repository", repo.String(), "failed", failed)
	}

	analyzedAt := d.now()
	records := make(map[string]shared.UsageRecord, len(names))
	for _, name := range names {
		a := acc[name]
		files := lo.Uniq(a.files)
		sort.Strings(files)
		patterns := lo.Uniq(a.patterns)
		sort.Strings(patterns)
		records[name] = shared.UsageRecord{
			PackageName:    name,
			Imported:       len(files) > 0,
			Files:          files,
			Patterns:       patterns,
			ReferenceCount: a.count,
			AnalyzedAt:     analyzedAt,
		}
	}
	return records, nil
}

func (d *Detector) candidate(set compiledSet, file string) bool {
	if _, ok := set.extensions[strings.ToLower(path.Ext(file))]; !ok {
		return false
	}
	for _, segment := range strings.Split(path.Dir(file), "/") {
		if _, skip := d.excludeDirs[segment]; skip {
			return false
		}
	}
	return true
}
