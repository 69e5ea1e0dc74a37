// Package store persists vulnerabilities, repository registrations and scan history.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Store is the persistence boundary of the engine. Lookups of absent records
// return errors.ErrNotFound.
type Store interface {
	// UpsertVulnerability inserts a record or refines the flags of the stored one.
	UpsertVulnerability(ctx context.Context, v shared.VulnerabilityRecord) (bool, error)
	ListVulnerabilities(ctx context.Context, ecosystems ...string) ([]shared.VulnerabilityRecord, error)

	// RegisterRepository is idempotent: a known identifier returns the stored
	// registration untouched and false.
	RegisterRepository(ctx context.Context, reg shared.RepositoryRegistration) (shared.RepositoryRegistration, bool, error)
	GetRepository(ctx context.Context, id string) (shared.RepositoryRegistration, error)
	ListActiveRepositories(ctx context.Context) ([]shared.RepositoryRegistration, error)
	SetRepositoryActive(ctx context.Context, id string, active bool) error

	// RecordScan atomically appends the result and updates the registration's
	// last-scanned timestamp and counters.
	RecordScan(ctx context.Context, result shared.ScanResult) error
	// SaveScanResult appends the result to the history only.
	SaveScanResult(ctx context.Context, result shared.ScanResult) error
	LatestScanResult(ctx context.Context, repositoryID string) (shared.ScanResult, error)
	// ListScanResults returns up to limit results, newest first. A limit below 1 means all.
	ListScanResults(ctx context.Context, repositoryID string, limit int) ([]shared.ScanResult, error)

	// RecordRemediation remembers the change request opened for a hit key.
	// Recording the same key again replaces the response.
	RecordRemediation(ctx context.Context, repositoryID, hitKey string, resp shared.RemediationResponse) error
	// Remediations returns the recorded change requests of a repository by hit key.
	Remediations(ctx context.Context, repositoryID string) (map[string]shared.RemediationResponse, error)

	Close() error
}

// New opens the store selected by the storage configuration.
func New(cfg config.Storage, logger hclog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		logger.Debug("using in-memory store")
		return NewMemoryStore(), nil
	case config.StorageSQLite:
		logger.Debug("opening sqlite store", "path", cfg.Path)
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func ecosystemFilter(ecosystems []string) map[string]bool {
	if len(ecosystems) == 0 {
		return nil
	}
	filter := make(map[string]bool, len(ecosystems))
	for _, e := range ecosystems {
		filter[strings.ToLower(e)] = true
	}
	return filter
}

func sortVulnerabilities(records []shared.VulnerabilityRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key() < records[j].Key() })
}

func applyScan(reg *shared.RepositoryRegistration, result shared.ScanResult) {
	reg.LastScannedAt = result.FinishedAt
	reg.CriticalHitCount = result.CriticalHitCount
	reg.TotalPackages = result.PackagesScanned
}
