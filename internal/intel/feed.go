// Package intel pulls vulnerability intelligence from advisory feeds.
package intel

import (
	"context"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Feed returns the vulnerability records published since the last call.
type Feed interface {
	Name() string
	FetchLatestVulnerabilities(ctx context.Context) ([]shared.VulnerabilityRecord, error)
}

// Enricher refines the flags of already fetched records in place.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, records []shared.VulnerabilityRecord) error
}

// Aggregator merges several feeds. Its enrichers run over whole corpora
// through Refine. A failing feed or enricher is logged and skipped.
type Aggregator struct {
	feeds     []Feed
	enrichers []Enricher
	logger    hclog.Logger
}

// NewAggregator creates an aggregator over feeds.
func NewAggregator(logger hclog.Logger, feeds []Feed, enrichers ...Enricher) *Aggregator {
	return &Aggregator{feeds: feeds, enrichers: enrichers, logger: logger}
}

func (a *Aggregator) Name() string { return "aggregate" }

// FetchLatestVulnerabilities never fails because of a single feed. Records are
// deduplicated by key; a later duplicate only refines the exploitation flags.
func (a *Aggregator) FetchLatestVulnerabilities(ctx context.Context) ([]shared.VulnerabilityRecord, error) {
	index := make(map[string]int)
	var records []shared.VulnerabilityRecord

	for _, feed := range a.feeds {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		fetched, err := feed.FetchLatestVulnerabilities(ctx)
		if err != nil {
			a.logger.Warn("intelligence feed failed", "feed", feed.Name(), "error", err)
			continue
		}
		a.logger.Debug("intelligence feed fetched", "feed", feed.Name(), "records", len(fetched))

		for _, r := range fetched {
			if i, ok := index[r.Key()]; ok {
				records[i].RefineFlags(r)
				continue
			}
			index[r.Key()] = len(records)
			records = append(records, r)
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Key() < records[j].Key() })
	return records, nil
}

// Refine runs the enrichers over a copy of records and returns the records
// whose exploitation flags changed.
func (a *Aggregator) Refine(ctx context.Context, records []shared.VulnerabilityRecord) []shared.VulnerabilityRecord {
	if len(records) == 0 || len(a.enrichers) == 0 {
		return nil
	}
	refined := append([]shared.VulnerabilityRecord(nil), records...)
	for _, e := range a.enrichers {
		if err := e.Enrich(ctx, refined); err != nil {
			a.logger.Warn("intelligence enrichment failed", "enricher", e.Name(), "error", err)
		}
	}

	var changed []shared.VulnerabilityRecord
	for i := range refined {
		if refined[i].KnownExploited != records[i].KnownExploited || refined[i].ExploitAvailable != records[i].ExploitAvailable {
			changed = append(changed, refined[i])
		}
	}
	a.logger.Debug("intelligence enrichment finished", "records", len(records), "refined", len(changed))
	return changed
}
