// Package app assembles the engine from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/internal/git"
	"github.com/scan-io-git/vulnimpact/internal/intel"
	"github.com/scan-io-git/vulnimpact/internal/manifest"
	"github.com/scan-io-git/vulnimpact/internal/metrics"
	"github.com/scan-io-git/vulnimpact/internal/orchestrator"
	"github.com/scan-io-git/vulnimpact/internal/planner"
	"github.com/scan-io-git/vulnimpact/internal/scheduler"
	"github.com/scan-io-git/vulnimpact/internal/scoring"
	"github.com/scan-io-git/vulnimpact/internal/source"
	"github.com/scan-io-git/vulnimpact/internal/store"
	"github.com/scan-io-git/vulnimpact/internal/usage"
	"github.com/scan-io-git/vulnimpact/internal/vcs"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	sharederrors "github.com/scan-io-git/vulnimpact/pkg/shared/errors"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
	"github.com/scan-io-git/vulnimpact/pkg/shared/httpclient"
)

// App holds the wired engine and the resources it must release.
type App struct {
	Config       *config.Config
	Logger       hclog.Logger
	Store        store.Store
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator

	fs      afero.Fs
	vcs     *vcs.Client
	closers []func() error
}

// Option adjusts how the App is assembled.
type Option func(*App)

// WithFs replaces the filesystem used for local checkouts and dry-run plans.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// New builds every component from cfg. Only configuration errors and a store
// that cannot be opened are fatal.
func New(cfg *config.Config, logger hclog.Logger, opts ...Option) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		fs:      afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(a)
	}

	st, err := store.New(cfg.Storage, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	built, err := a.build()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Orchestrator = built
	return a, nil
}

func (a *App) build() (*orchestrator.Orchestrator, error) {
	cfg, logger := a.Config, a.Logger
	restyClient := httpclient.InitializeRestyClient(logger.Named("http"), cfg)

	src, err := a.source()
	if err != nil {
		return nil, err
	}
	remediator, err := a.remediator()
	if err != nil {
		return nil, err
	}

	detector, err := usage.NewDetector(src, logger.Named("usage"),
		append(patternSets(cfg.Usage),
			usage.WithExcludeDirs(cfg.Usage.ExcludeDirs),
			usage.WithConcurrency(cfg.Usage.Concurrency))...)
	if err != nil {
		return nil, fmt.Errorf("invalid usage patterns: %w", err)
	}

	components := orchestrator.Components{
		Store:      a.Store,
		Source:     src,
		Feed:       a.feed(restyClient),
		Resolver:   manifest.NewResolver(src, manifest.DefaultRegistry(), logger.Named("manifest")),
		Detector:   detector,
		Scorer:     scoring.NewScorer(scoring.DefaultWeights()),
		Planner:    planner.NewSynthesizer(planner.NewReasoning(httpclient.InitializeRestyClient(logger.Named("http"), cfg, httpclient.WithoutRetries()), cfg.Reasoning), logger.Named("planner")),
		Remediator: remediator,
		Observer:   a.Metrics,
	}
	return orchestrator.New(components, cfg.Scan, logger.Named("orchestrator"))
}

func (a *App) source() (shared.SourceAccess, error) {
	cfg := a.Config
	switch cfg.Source.Kind {
	case config.SourceLocal:
		root, err := files.ExpandPath(cfg.Source.LocalRoot)
		if err != nil {
			return nil, err
		}
		a.Logger.Debug("reading repositories from local checkouts", "root", root)
		return source.NewLocal(a.fs, root), nil
	case config.SourceGit:
		workdir, err := files.ExpandPath(cfg.Source.Workdir)
		if err != nil {
			return nil, err
		}
		client, err := git.New(a.Logger.Named("git"), cfg.GitClient)
		if err != nil {
			return nil, fmt.Errorf("failed to set up git client: %w", err)
		}
		return source.NewGit(a.fs, client, workdir, cfg.Source.GitHost, a.Logger.Named("source")), nil
	case config.SourcePlugin:
		return a.vcsClient()
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.Source.Kind)
	}
}

func (a *App) remediator() (shared.Remediator, error) {
	cfg := a.Config
	if !config.GetBoolValue(cfg, "Remediation.Enabled", false) {
		a.Logger.Info("remediation disabled")
		return nil, nil
	}
	switch cfg.Remediation.Mode {
	case config.RemediationDryRun:
		folder, err := files.ExpandPath(cfg.Remediation.OutputFolder)
		if err != nil {
			return nil, err
		}
		return source.NewDryRunRemediator(a.fs, folder, a.Logger.Named("remediation")), nil
	case config.RemediationPlugin:
		return a.vcsClient()
	default:
		return nil, fmt.Errorf("unsupported remediation mode %q", cfg.Remediation.Mode)
	}
}

// vcsClient starts the SCM plugin once and shares it between source access and remediation.
func (a *App) vcsClient() (*vcs.Client, error) {
	if a.vcs != nil {
		return a.vcs, nil
	}
	folder, err := files.ExpandPath(a.Config.Source.PluginsFolder)
	if err != nil {
		return nil, err
	}
	client, err := vcs.Open(a.Logger.Named("vcs"), folder, a.Config.Source.PluginName, a.Config.Source.PluginTimeout)
	if err != nil {
		return nil, err
	}
	a.vcs = client
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	return client, nil
}

// feed returns nil when every intelligence source is disabled.
func (a *App) feed(client *resty.Client) orchestrator.IntelligenceFeed {
	cfg := a.Config.Intelligence
	logger := a.Logger.Named("intel")

	var feeds []intel.Feed
	if config.GetBoolValue(cfg, "GHSA.Enabled", true) {
		feeds = append(feeds, intel.NewGHSAFeed(client,
			intel.WithGHSAURL(cfg.GHSA.URL),
			intel.WithGHSAToken(cfg.GHSA.Token),
			intel.WithGHSAEcosystems(cfg.GHSA.Ecosystems...),
			intel.WithGHSAPaging(cfg.GHSA.PerPage, cfg.GHSA.MaxPages)))
	}
	if len(feeds) == 0 {
		logger.Info("intelligence ingestion disabled, scanning against the stored corpus")
		return nil
	}

	var enrichers []intel.Enricher
	if config.GetBoolValue(cfg, "KEV.Enabled", true) {
		enrichers = append(enrichers, intel.NewKEVEnricher(client, cfg.KEV.URL))
	}
	return intel.NewAggregator(logger, feeds, enrichers...)
}

// Scheduler builds the recurring trigger for RunCycle.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	var (
		ticker scheduler.Ticker
		err    error
	)
	if a.Config.Scheduler.Cron != "" {
		ticker, err = scheduler.Cron(a.Config.Scheduler.Cron)
		if err != nil {
			return nil, err
		}
	} else {
		ticker = scheduler.Interval(a.Config.Scheduler.Interval)
	}

	task := func(ctx context.Context) {
		if _, err := a.Orchestrator.RunCycle(ctx); err != nil && !errors.Is(err, sharederrors.ErrCycleInProgress) {
			a.Logger.Error("scan cycle failed", "error", err)
		}
	}
	return scheduler.New(ticker, task, a.Logger.Named("scheduler"),
		scheduler.WithRunOnStart(config.GetBoolValue(a.Config, "Scheduler.RunOnStart", true))), nil
}

// Close releases the plugin process and the store.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// patternSets converts configured usage patterns into detector options.
func patternSets(cfg config.Usage) []usage.Option {
	ecosystems := make([]string, 0, len(cfg.Patterns))
	for name := range cfg.Patterns {
		ecosystems = append(ecosystems, name)
	}
	sort.Strings(ecosystems)

	opts := make([]usage.Option, 0, len(ecosystems))
	for _, name := range ecosystems {
		p := cfg.Patterns[name]
		set := usage.PatternSet{Ecosystem: name, Extensions: p.Extensions}
		for _, pattern := range p.Patterns {
			set.Patterns = append(set.Patterns, usage.Pattern{Expr: pattern.Expr, Scope: pattern.Scope})
		}
		opts = append(opts, usage.WithPatternSet(set))
	}
	return opts
}
