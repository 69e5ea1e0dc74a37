package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"

	"github.com/scan-io-git/vulnimpact/internal/matcher"
	"github.com/scan-io-git/vulnimpact/internal/planner"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// Pipeline stages reported in degraded results.
const (
	stagePrepare  = "prepare"
	stageResolve  = "resolve"
	stageCorpus   = "load vulnerabilities"
	stageUsage    = "detect usage"
	stagePipeline = "pipeline"
	stagePersist  = "persist"
)

// historyLookback bounds the search for the previous non-degraded result.
const historyLookback = 20

type scanOutcome struct {
	result    shared.ScanResult
	newHits   []shared.CriticalHit
	requested int
	failed    int
}

// scanAndRemediate scans one repository, persists the result and requests
// remediation for critical hits without a recorded change request.
func (o *Orchestrator) scanAndRemediate(ctx context.Context, logger hclog.Logger, repo shared.RepositoryRegistration) scanOutcome {
	logger = logger.With("repository", repo.ID)

	result, err := o.scan(ctx, logger, repo)
	if err != nil {
		logger.Warn("repository scan degraded", "error", err)
		o.observer.RepositoryScanned(repo.ID, shared.StatusDegraded, 0)
		degraded := o.degraded(result, err)
		if err := o.store.SaveScanResult(ctx, degraded); err != nil {
			logger.Error("failed to save degraded scan result", "error", err)
		}
		return scanOutcome{result: degraded}
	}

	previous := o.previousResult(ctx, logger, repo.ID)
	if err := o.store.RecordScan(ctx, result); err != nil {
		logger.Error("failed to record scan result", "error", err)
		o.observer.RepositoryScanned(repo.ID, shared.StatusFailed, 0)
		return scanOutcome{result: o.degraded(result, errors.NewRepositoryScanError(repo.ID, stagePersist, err))}
	}
	o.observer.RepositoryScanned(repo.ID, shared.StatusSucceeded, result.CriticalHitCount)

	outcome := scanOutcome{result: result, newHits: newCriticalHits(previous, result)}
	logger.Info("repository scanned",
		"packages", result.PackagesScanned,
		"considered", result.VulnerabilitiesConsidered,
		"critical_hits", result.CriticalHitCount,
		"low_priority", result.LowPriorityCount,
		"new_critical_hits", len(outcome.newHits))

	outcome.requested, outcome.failed = o.remediate(ctx, logger, repo, result.CriticalHits())
	return outcome
}

// scan runs the pipeline under the repository timeout. A panic anywhere in the
// pipeline is turned into an error.
func (o *Orchestrator) scan(ctx context.Context, logger hclog.Logger, repo shared.RepositoryRegistration) (result shared.ScanResult, err error) {
	result = shared.ScanResult{
		ID:           uuid.NewString(),
		RepositoryID: repo.ID,
		StartedAt:    o.now(),
		Hits:         []shared.CriticalHit{},
	}

	if o.repositoryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.repositoryTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during repository scan", "panic", r, "stack", string(debug.Stack()))
			err = errors.NewRepositoryScanError(repo.ID, stagePipeline, fmt.Errorf("panic: %v", r))
		}
		result.FinishedAt = o.now()
	}()

	err = o.pipeline(ctx, logger, repo, &result)
	return result, err
}

func (o *Orchestrator) pipeline(ctx context.Context, logger hclog.Logger, repo shared.RepositoryRegistration, result *shared.ScanResult) error {
	ref := repo.Ref()

	if preparer, ok := o.source.(shared.Preparer); ok {
		if err := preparer.Prepare(ctx, ref); err != nil {
			return errors.NewRepositoryScanError(repo.ID, stagePrepare, err)
		}
	}

	packages, err := o.resolver.Resolve(ctx, repo)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return errors.NewRepositoryScanError(repo.ID, stageResolve, err)
	}
	result.PackagesScanned = len(packages)
	if len(packages) == 0 {
		logger.Debug("no packages resolved")
		return nil
	}

	corpus, err := o.store.ListVulnerabilities(ctx, repo.Ecosystem)
	if err != nil {
		return errors.NewRepositoryScanError(repo.ID, stageCorpus, err)
	}
	matched := matcher.Find(packages, corpus)
	result.VulnerabilitiesConsidered = matched.Considered
	if len(matched.Matches) == 0 {
		return nil
	}

	names := lo.Uniq(lo.Map(matched.Matches, func(m matcher.Match, _ int) string { return m.Package.Name }))
	usages, err := o.detector.DetectAll(ctx, ref, repo.Ecosystem, names)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewRepositoryScanError(repo.ID, stageUsage, err)
		}
		logger.Warn("usage detection failed, scoring with unknown usage", "error", err)
		usages = nil
	}

	result.Hits = o.scorer.Classify(matched.Matches, usages)
	result.Tally()
	return nil
}

// degraded is the empty result stored for a failed pass.
func (o *Orchestrator) degraded(result shared.ScanResult, err error) shared.ScanResult {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = o.now()
	}
	return shared.ScanResult{
		ID:           result.ID,
		RepositoryID: result.RepositoryID,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		Hits:         []shared.CriticalHit{},
		Error:        err.Error(),
	}
}

// previousResult returns the newest non-degraded result of a repository, if any.
func (o *Orchestrator) previousResult(ctx context.Context, logger hclog.Logger, id string) *shared.ScanResult {
	history, err := o.store.ListScanResults(ctx, id, historyLookback)
	if err != nil {
		logger.Warn("failed to load scan history, treating every critical hit as new", "error", err)
		return nil
	}
	for i := range history {
		if !history[i].Degraded() {
			return &history[i]
		}
	}
	return nil
}

// newCriticalHits returns the critical hits of current that were not critical
// in previous. Without a previous result every critical hit is new.
func newCriticalHits(previous *shared.ScanResult, current shared.ScanResult) []shared.CriticalHit {
	hits := current.CriticalHits()
	if previous == nil {
		return hits
	}
	known := make(map[string]struct{})
	for _, h := range previous.CriticalHits() {
		known[h.Key()] = struct{}{}
	}
	return lo.Filter(hits, func(h shared.CriticalHit, _ int) bool {
		_, seen := known[h.Key()]
		return !seen
	})
}

// remediate plans every hit without a recorded change request and opens one
// for it. Each failure is logged and counted on its own; failed hits are
// retried by the next scan.
func (o *Orchestrator) remediate(ctx context.Context, logger hclog.Logger, repo shared.RepositoryRegistration, hits []shared.CriticalHit) (requested, failed int) {
	if len(hits) == 0 {
		return 0, 0
	}
	if o.remediator == nil {
		logger.Debug("remediation disabled", "critical_hits", len(hits))
		return 0, 0
	}

	done, err := o.store.Remediations(ctx, repo.ID)
	if err != nil {
		logger.Warn("failed to load recorded remediations, retrying next scan", "error", err)
		return 0, 0
	}
	// copies of a package with differing versions share a key; hits are
	// sorted by score, so the strongest copy is remediated
	hits = lo.Filter(lo.UniqBy(hits, shared.CriticalHit.Key), func(h shared.CriticalHit, _ int) bool {
		_, ok := done[h.Key()]
		return !ok
	})
	if len(hits) == 0 {
		return 0, 0
	}

	ref := repo.Ref()
	for _, hit := range hits {
		hitLogger := logger.With("vulnerability", hit.Vulnerability.ID, "package", hit.Package.Name)
		if ctx.Err() != nil {
			hitLogger.Warn("remediation skipped, cycle cancelled")
			failed++
			o.observer.RemediationRequested(shared.StatusFailed)
			continue
		}

		plan := o.planner.Plan(ctx, hit)
		body, err := planner.RenderMarkdown(plan)
		if err != nil {
			hitLogger.Warn("failed to render remediation plan", "error", err)
			failed++
			o.observer.RemediationRequested(shared.StatusFailed)
			continue
		}

		resp, err := o.remediator.CreateRemediationRequest(ctx, ref, hit.Package.Name, plan.Analysis.RecommendedVersion, planner.Title(plan), body)
		if err != nil {
			hitLogger.Warn("remediation request failed", "error", err)
			failed++
			o.observer.RemediationRequested(shared.StatusFailed)
			continue
		}
		requested++
		o.observer.RemediationRequested(shared.StatusSucceeded)
		if err := o.store.RecordRemediation(ctx, repo.ID, hit.Key(), resp); err != nil {
			hitLogger.Warn("failed to record remediation request", "error", err)
		}
		hitLogger.Info("remediation requested", "id", resp.ID, "url", resp.URL, "target_version", plan.Analysis.RecommendedVersion, "backend", plan.Metadata.Backend)
	}
	return requested, failed
}
