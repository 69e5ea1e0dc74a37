package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// CycleSummary describes one completed scan cycle.
type CycleSummary struct {
	ID                     string    `json:"id"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
	VulnerabilitiesFetched int       `json:"vulnerabilities_fetched"`
	VulnerabilitiesStored  int       `json:"vulnerabilities_stored"`
	Repositories           int       `json:"repositories"`
	NotDue                 int       `json:"not_due"`
	Scanned                int       `json:"scanned"`
	Degraded               int       `json:"degraded"`
	Cancelled              int       `json:"cancelled"`
	CriticalHits           int       `json:"critical_hits"`
	NewCriticalHits        int       `json:"new_critical_hits"`
	RemediationsRequested  int       `json:"remediations_requested"`
	RemediationsFailed     int       `json:"remediations_failed"`
}

// RunCycle runs one full cycle: ingest intelligence, then scan every active
// repository that is due. It returns ErrCycleInProgress without doing
// anything while another cycle or manual scan is running. Failures of single
// repositories, feeds or remediation requests never fail the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleSummary, error) {
	if err := o.acquire(); err != nil {
		o.logger.Info("scan cycle skipped, previous cycle still running")
		o.observer.CycleFinished(shared.OutcomeSkipped, 0)
		return CycleSummary{}, err
	}
	defer o.release()

	summary := CycleSummary{ID: uuid.NewString(), StartedAt: o.now()}
	logger := o.logger.With("cycle", summary.ID)
	logger.Info("scan cycle started")

	summary.VulnerabilitiesFetched, summary.VulnerabilitiesStored = o.ingest(ctx, logger)

	repos, err := o.store.ListActiveRepositories(ctx)
	if err != nil {
		logger.Error("failed to list repositories", "error", err)
		summary.FinishedAt = o.now()
		o.observer.CycleFinished(shared.OutcomeCompleted, summary.FinishedAt.Sub(summary.StartedAt))
		return summary, err
	}
	summary.Repositories = len(repos)

	due := make([]shared.RepositoryRegistration, 0, len(repos))
	for _, repo := range repos {
		if repo.Due(summary.StartedAt) {
			due = append(due, repo)
		} else {
			logger.Debug("repository not due", "repository", repo.ID, "last_scanned_at", repo.LastScannedAt)
			summary.NotDue++
		}
	}

	var mu sync.Mutex
	shared.ForEachBounded(o.workers, due, func(_ int, repo shared.RepositoryRegistration) {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Cancelled++
			mu.Unlock()
			return
		}
		outcome := o.scanAndRemediate(ctx, logger, repo)

		mu.Lock()
		defer mu.Unlock()
		summary.Scanned++
		if outcome.result.Degraded() {
			summary.Degraded++
		}
		summary.CriticalHits += outcome.result.CriticalHitCount
		summary.NewCriticalHits += len(outcome.newHits)
		summary.RemediationsRequested += outcome.requested
		summary.RemediationsFailed += outcome.failed
	})

	summary.FinishedAt = o.now()
	outcome := shared.OutcomeCompleted
	if ctx.Err() != nil {
		outcome = shared.OutcomeCancelled
	}
	o.observer.CycleFinished(outcome, summary.FinishedAt.Sub(summary.StartedAt))
	logger.Info("scan cycle finished",
		"outcome", outcome,
		"repositories", summary.Repositories,
		"scanned", summary.Scanned,
		"degraded", summary.Degraded,
		"not_due", summary.NotDue,
		"critical_hits", summary.CriticalHits,
		"new_critical_hits", summary.NewCriticalHits,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// ScanRepository runs exactly one pipeline pass over a registered repository,
// ignoring its scan interval, and returns the result. Critical hits are
// handed to remediation like in a cycle. A failed pass is reported through
// the result's Error field, not the returned error.
func (o *Orchestrator) ScanRepository(ctx context.Context, id string) (shared.ScanResult, error) {
	ref, err := shared.ParseRepositoryID(id)
	if err != nil {
		return shared.ScanResult{}, err
	}
	if err := o.acquire(); err != nil {
		o.logger.Info("manual scan rejected, a scan cycle is running", "repository", ref.String())
		return shared.ScanResult{}, err
	}
	defer o.release()

	repo, err := o.store.GetRepository(ctx, ref.String())
	if err != nil {
		return shared.ScanResult{}, err
	}

	logger := o.logger.With("scan", uuid.NewString())
	outcome := o.scanAndRemediate(ctx, logger, repo)
	return outcome.result, nil
}

// ingest fetches the latest intelligence, stores it and refines the flags of
// the stored corpus. It returns the number of records fetched and the number
// that were new.
func (o *Orchestrator) ingest(ctx context.Context, logger hclog.Logger) (int, int) {
	if o.feed == nil {
		return 0, 0
	}
	defer o.refineCorpus(ctx, logger)

	records, err := o.feed.FetchLatestVulnerabilities(ctx)
	if err != nil {
		logger.Warn("intelligence ingestion failed, scanning against the stored corpus", "error", err)
		return 0, 0
	}

	stored := 0
	for _, v := range records {
		created, err := o.store.UpsertVulnerability(ctx, v)
		if err != nil {
			logger.Warn("failed to store vulnerability", "vulnerability", v.ID, "package", v.PackageName, "error", err)
			continue
		}
		if created {
			stored++
		}
	}
	o.observer.VulnerabilitiesIngested(stored)
	logger.Info("intelligence ingested", "fetched", len(records), "new", stored)
	return len(records), stored
}

// refineCorpus applies the feed's enrichment to every stored record, so
// records ingested before they were listed as exploited pick up the flags.
func (o *Orchestrator) refineCorpus(ctx context.Context, logger hclog.Logger) {
	refiner, ok := o.feed.(CorpusRefiner)
	if !ok {
		return
	}
	corpus, err := o.store.ListVulnerabilities(ctx)
	if err != nil {
		logger.Warn("failed to list stored vulnerabilities for refinement", "error", err)
		return
	}

	refined := 0
	for _, v := range refiner.Refine(ctx, corpus) {
		if _, err := o.store.UpsertVulnerability(ctx, v); err != nil {
			logger.Warn("failed to refine vulnerability", "vulnerability", v.ID, "package", v.PackageName, "error", err)
			continue
		}
		refined++
	}
	if refined > 0 {
		logger.Info("stored vulnerabilities refined", "refined", refined)
	}
}
