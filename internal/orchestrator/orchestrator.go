// Package orchestrator runs the scan cycle: it ingests intelligence, scans
// every due repository and hands unremediated critical hits to remediation.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/manifest"
	"github.com/scan-io-git/vulnimpact/internal/scoring"
	"github.com/scan-io-git/vulnimpact/internal/store"
	"github.com/scan-io-git/vulnimpact/internal/usage"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// IntelligenceFeed supplies the latest vulnerability records.
type IntelligenceFeed interface {
	FetchLatestVulnerabilities(ctx context.Context) ([]shared.VulnerabilityRecord, error)
}

// CorpusRefiner refines the exploitation flags of stored records and returns
// the records that changed. An IntelligenceFeed may implement it.
type CorpusRefiner interface {
	Refine(ctx context.Context, records []shared.VulnerabilityRecord) []shared.VulnerabilityRecord
}

// PlanSynthesizer turns a critical hit into a remediation plan. It never fails.
type PlanSynthesizer interface {
	Plan(ctx context.Context, hit shared.CriticalHit) shared.RemediationPlan
}

// Observer receives cycle, scan and remediation events, typically for metrics.
type Observer interface {
	CycleFinished(outcome string, elapsed time.Duration)
	RepositoryScanned(repository, status string, criticalHits int)
	VulnerabilitiesIngested(n int)
	RemediationRequested(status string)
}

// Components are the collaborators of an Orchestrator. Feed, Remediator and
// Observer are optional.
type Components struct {
	Store      store.Store
	Source     shared.SourceAccess
	Feed       IntelligenceFeed
	Resolver   *manifest.Resolver
	Detector   *usage.Detector
	Scorer     *scoring.Scorer
	Planner    PlanSynthesizer
	Remediator shared.Remediator
	Observer   Observer
}

// Orchestrator owns the single scan cycle. At most one cycle or manual scan
// runs at a time; further requests are rejected, never queued.
type Orchestrator struct {
	store      store.Store
	source     shared.SourceAccess
	feed       IntelligenceFeed
	resolver   *manifest.Resolver
	detector   *usage.Detector
	scorer     *scoring.Scorer
	planner    PlanSynthesizer
	remediator shared.Remediator
	observer   Observer
	logger     hclog.Logger

	workers           int           // repositories scanned concurrently
	repositoryTimeout time.Duration // bound on one repository pipeline pass
	defaultInterval   time.Duration // scan interval for registrations without one
	now               func() time.Time

	running atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. Store, Source, Resolver, Detector, Scorer and
// Planner are required.
func New(c Components, cfg config.Scan, logger hclog.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case c.Store == nil:
		return nil, fmt.Errorf("orchestrator requires a store")
	case c.Source == nil:
		return nil, fmt.Errorf("orchestrator requires a source")
	case c.Resolver == nil, c.Detector == nil, c.Scorer == nil:
		return nil, fmt.Errorf("orchestrator requires a resolver, a usage detector and a scorer")
	case c.Planner == nil:
		return nil, fmt.Errorf("orchestrator requires a plan synthesizer")
	}

	o := &Orchestrator{
		store:             c.Store,
		source:            c.Source,
		feed:              c.Feed,
		resolver:          c.Resolver,
		detector:          c.Detector,
		scorer:            c.Scorer,
		planner:           c.Planner,
		remediator:        c.Remediator,
		observer:          c.Observer,
		logger:            logger,
		workers:           config.SetThen(cfg.Workers, 1),
		repositoryTimeout: cfg.RepositoryTimeout,
		defaultInterval:   cfg.DefaultInterval,
		now:               time.Now,
	}
	if o.observer == nil {
		o.observer = noopObserver{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// acquire takes the cycle. It fails with ErrCycleInProgress while another
// cycle or manual scan holds it.
func (o *Orchestrator) acquire() error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.ErrCycleInProgress
	}
	return nil
}

func (o *Orchestrator) release() {
	o.running.Store(false)
}

// Running reports whether a cycle or manual scan is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RegisterRepository starts monitoring a repository. Registering a known
// identifier returns the stored registration unchanged and false.
func (o *Orchestrator) RegisterRepository(ctx context.Context, reg shared.RepositoryRegistration) (shared.RepositoryRegistration, bool, error) {
	ref, err := shared.ParseRepositoryID(reg.ID)
	if err != nil {
		return shared.RepositoryRegistration{}, false, err
	}
	reg.ID = ref.String()

	parser, err := o.resolver.Registry().Lookup(reg.Ecosystem)
	if err != nil {
		return shared.RepositoryRegistration{}, false, err
	}
	reg.Ecosystem = parser.Ecosystem()
	if reg.ManifestPath == "" {
		reg.ManifestPath = parser.DefaultManifest()
	}
	if reg.ScanInterval <= 0 {
		reg.ScanInterval = o.defaultInterval
	}
	reg.Active = true
	reg.CreatedAt = o.now()
	reg.LastScannedAt = time.Time{}
	reg.CriticalHitCount, reg.TotalPackages = 0, 0

	stored, created, err := o.store.RegisterRepository(ctx, reg)
	if err != nil {
		return shared.RepositoryRegistration{}, false, fmt.Errorf("failed to register %s: %w", reg.ID, err)
	}
	if created {
		o.logger.Info("repository registered", "repository", stored.ID, "ecosystem", stored.Ecosystem, "manifest", stored.ManifestPath)
	} else {
		o.logger.Info("repository already registered", "repository", stored.ID)
	}
	return stored, created, nil
}

// SetRepositoryActive pauses or resumes monitoring of a repository.
func (o *Orchestrator) SetRepositoryActive(ctx context.Context, id string, active bool) error {
	ref, err := shared.ParseRepositoryID(id)
	if err != nil {
		return err
	}
	if err := o.store.SetRepositoryActive(ctx, ref.String(), active); err != nil {
		return fmt.Errorf("failed to update %s: %w", ref.String(), err)
	}
	o.logger.Info("repository monitoring updated", "repository", ref.String(), "active", active)
	return nil
}

// History returns up to limit past scan results of a repository, newest first.
func (o *Orchestrator) History(ctx context.Context, id string, limit int) ([]shared.ScanResult, error) {
	ref, err := shared.ParseRepositoryID(id)
	if err != nil {
		return nil, err
	}
	return o.store.ListScanResults(ctx, ref.String(), limit)
}

// Plans synthesizes a remediation plan for every critical hit of result.
func (o *Orchestrator) Plans(ctx context.Context, result shared.ScanResult) []shared.RemediationPlan {
	hits := result.CriticalHits()
	plans := make([]shared.RemediationPlan, 0, len(hits))
	for _, hit := range hits {
		plans = append(plans, o.planner.Plan(ctx, hit))
	}
	return plans
}

type noopObserver struct{}

func (noopObserver) CycleFinished(string, time.Duration)   {}
func (noopObserver) RepositoryScanned(string, string, int) {}
func (noopObserver) VulnerabilitiesIngested(int)           {}
func (noopObserver) RemediationRequested(string)           {}
