package store

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	sharederrors "github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

func implementations(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func axiosVuln() shared.VulnerabilityRecord {
	score := 7.5
	return shared.VulnerabilityRecord{
		ID:               "GHSA-4w2v-q235-vp99",
		PackageName:      "axios",
		Ecosystem:        shared.EcosystemNPM,
		Severity:         shared.SeverityHigh,
		CVSSScore:        &score,
		AffectedVersions: "<0.21.1",
		FixedVersions:    ">=0.21.1",
		References:       []string{"https://github.com/advisories/GHSA-4w2v-q235-vp99"},
		Aliases:          []string{"CVE-2020-28168"},
		Source:           "ghsa",
		DiscoveredAt:     t0,
		ZeroDay:          true,
	}
}

func TestUpsertVulnerabilityRefinesFlags(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			created, err := s.UpsertVulnerability(ctx, axiosVuln())
			require.NoError(t, err)
			assert.True(t, created)

			newer := axiosVuln()
			newer.Description = "rewritten"
			newer.Severity = shared.SeverityLow
			newer.KnownExploited = true
			newer.ZeroDay = false
			created, err = s.UpsertVulnerability(ctx, newer)
			require.NoError(t, err)
			assert.False(t, created)

			again := axiosVuln()
			again.ZeroDay = false
			_, err = s.UpsertVulnerability(ctx, again)
			require.NoError(t, err)

			records, err := s.ListVulnerabilities(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			got := records[0]
			assert.Equal(t, shared.SeverityHigh, got.Severity)
			assert.Empty(t, got.Description)
			assert.True(t, got.KnownExploited, "exploitation facts never revert")
			assert.False(t, got.ZeroDay)
			require.NotNil(t, got.CVSSScore)
			assert.Equal(t, 7.5, *got.CVSSScore)
			assert.Equal(t, []string{"CVE-2020-28168"}, got.Aliases)
			assert.True(t, t0.Equal(got.DiscoveredAt))
		})
	}
}

func TestListVulnerabilitiesByEcosystem(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			goVuln := shared.VulnerabilityRecord{ID: "GO-2022-0969", PackageName: "golang.org/x/net", Ecosystem: shared.EcosystemGo, Severity: shared.SeverityMedium}
			sameID := axiosVuln()
			sameID.PackageName = "axios-legacy"
			for _, v := range []shared.VulnerabilityRecord{axiosVuln(), goVuln, sameID} {
				_, err := s.UpsertVulnerability(ctx, v)
				require.NoError(t, err)
			}

			all, err := s.ListVulnerabilities(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			npm, err := s.ListVulnerabilities(ctx, "NPM")
			require.NoError(t, err)
			require.Len(t, npm, 2)
			assert.Equal(t, "axios", npm[0].PackageName)
			assert.Equal(t, "axios-legacy", npm[1].PackageName)

			goOnly, err := s.ListVulnerabilities(ctx, "go")
			require.NoError(t, err)
			require.Len(t, goOnly, 1)
			assert.Equal(t, "GO-2022-0969", goOnly[0].ID)
		})
	}
}

func TestRegisterRepositoryIsIdempotent(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			reg := shared.RepositoryRegistration{
				ID: "acme/web", DefaultBranch: "main", Ecosystem: shared.EcosystemNPM,
				ManifestPath: "package.json", ScanInterval: time.Hour, Active: true, CreatedAt: t0,
			}
			_, created, err := s.RegisterRepository(ctx, reg)
			require.NoError(t, err)
			assert.True(t, created)

			require.NoError(t, s.RecordScan(ctx, shared.ScanResult{
				ID: "scan-1", RepositoryID: "acme/web", StartedAt: t0, FinishedAt: t0.Add(time.Minute),
				PackagesScanned: 12, CriticalHitCount: 2,
			}))

			again := reg
			again.DefaultBranch = "develop"
			again.CriticalHitCount = 99
			stored, created, err := s.RegisterRepository(ctx, again)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, "main", stored.DefaultBranch)
			assert.Equal(t, 2, stored.CriticalHitCount)
			assert.Equal(t, 12, stored.TotalPackages)

			got, err := s.GetRepository(ctx, "acme/web")
			require.NoError(t, err)
			assert.Equal(t, 2, got.CriticalHitCount)
			assert.Equal(t, 12, got.TotalPackages)
			assert.True(t, t0.Add(time.Minute).Equal(got.LastScannedAt))
			assert.Equal(t, time.Hour, got.ScanInterval)
		})
	}
}

func TestRepositoryActivation(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			for _, id := range []string{"acme/web", "acme/api"} {
				_, _, err := s.RegisterRepository(ctx, shared.RepositoryRegistration{ID: id, Active: true, CreatedAt: t0})
				require.NoError(t, err)
			}
			require.NoError(t, s.SetRepositoryActive(ctx, "acme/web", false))

			active, err := s.ListActiveRepositories(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "acme/api", active[0].ID)

			err = s.SetRepositoryActive(ctx, "acme/missing", true)
			assert.True(t, sharederrors.IsNotFound(err))

			_, err = s.GetRepository(ctx, "acme/missing")
			assert.True(t, sharederrors.IsNotFound(err))
		})
	}
}

func TestScanHistory(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.LatestScanResult(ctx, "acme/web")
			assert.True(t, sharederrors.IsNotFound(err))

			err = s.RecordScan(ctx, shared.ScanResult{ID: "orphan", RepositoryID: "acme/web"})
			assert.True(t, sharederrors.IsNotFound(err), "scans of unregistered repositories are rejected")

			_, _, err = s.RegisterRepository(ctx, shared.RepositoryRegistration{ID: "acme/web", Active: true, CreatedAt: t0})
			require.NoError(t, err)

			hits := []shared.CriticalHit{
				{
					Vulnerability: axiosVuln(),
					Package:       shared.PackageRecord{Name: "axios", Version: "0.19.0", Ecosystem: shared.EcosystemNPM, IsDirect: true, SourceFile: "package.json"},
					Usage:         shared.UsageRecord{PackageName: "axios", Imported: true, Files: []string{"src/api.js"}, ReferenceCount: 1, AnalyzedAt: t0},
					ThreatScore:   100,
					Evidence:      shared.Evidence{ManifestProof: "axios@0.19.0 declared in package.json (direct dependency)", UsageProof: []string{"src/api.js"}},
				},
				{
					Vulnerability: shared.VulnerabilityRecord{ID: "GHSA-p6mc-m468-83gw", PackageName: "lodash", Ecosystem: shared.EcosystemNPM, Severity: shared.SeverityHigh},
					Package:       shared.PackageRecord{Name: "lodash", Version: "4.17.15", Ecosystem: shared.EcosystemNPM, SourceFile: "package-lock.json"},
					Usage:         shared.UsageRecord{PackageName: "lodash", AnalyzedAt: t0},
					ThreatScore:   21,
				},
			}
			first := shared.ScanResult{
				ID: "scan-1", RepositoryID: "acme/web", StartedAt: t0, FinishedAt: t0.Add(time.Second),
				PackagesScanned: 40, VulnerabilitiesConsidered: 2, Hits: hits,
			}
			first.Tally()
			require.NoError(t, s.RecordScan(ctx, first))

			degraded := shared.ScanResult{
				ID: "scan-2", RepositoryID: "acme/web", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour),
				Error: "manifest unavailable",
			}
			require.NoError(t, s.SaveScanResult(ctx, degraded))

			reg, err := s.GetRepository(ctx, "acme/web")
			require.NoError(t, err)
			assert.Equal(t, 1, reg.CriticalHitCount, "degraded results leave counters untouched")
			assert.Equal(t, 40, reg.TotalPackages)

			latest, err := s.LatestScanResult(ctx, "acme/web")
			require.NoError(t, err)
			assert.Equal(t, "scan-2", latest.ID)
			assert.True(t, latest.Degraded())
			assert.Empty(t, latest.Hits)

			history, err := s.ListScanResults(ctx, "acme/web", 0)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, "scan-1", history[1].ID)

			got := history[1]
			require.Len(t, got.Hits, 2)
			assert.Equal(t, 1, got.CriticalHitCount)
			assert.Equal(t, 1, got.LowPriorityCount)
			assert.Equal(t, "axios", got.Hits[0].Package.Name)
			assert.Equal(t, shared.ImpactCriticalHit, got.Hits[0].ImpactLevel())
			assert.Equal(t, []string{"src/api.js"}, got.Hits[0].Usage.Files)
			assert.Equal(t, shared.ImpactLowPriority, got.Hits[1].ImpactLevel())
			assert.Equal(t, 21, got.Hits[1].ThreatScore)

			limited, err := s.ListScanResults(ctx, "acme/web", 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "scan-2", limited[0].ID)
		})
	}
}

func TestResultsWithoutHitsKeepEmptySlice(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			_, _, err := s.RegisterRepository(ctx, shared.RepositoryRegistration{ID: "acme/empty", Active: true, CreatedAt: t0})
			require.NoError(t, err)

			tests := []struct {
				name   string
				result shared.ScanResult
				save   func(context.Context, shared.ScanResult) error
			}{
				{name: "recorded clean scan", result: shared.ScanResult{ID: "clean", RepositoryID: "acme/empty", StartedAt: t0}, save: s.RecordScan},
				{name: "saved degraded scan", result: shared.ScanResult{ID: "degraded", RepositoryID: "acme/empty", StartedAt: t0, Error: "boom"}, save: s.SaveScanResult},
			}
			for _, tt := range tests {
				require.NoError(t, tt.save(ctx, tt.result), tt.name)
				latest, err := s.LatestScanResult(ctx, "acme/empty")
				require.NoError(t, err, tt.name)
				assert.Equal(t, tt.result.ID, latest.ID, tt.name)
				assert.NotNil(t, latest.Hits, tt.name)
				assert.Empty(t, latest.Hits, tt.name)
			}
		})
	}
}

func TestRemediations(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			got, err := s.Remediations(ctx, "acme/web")
			require.NoError(t, err)
			assert.Empty(t, got)

			key := "GHSA-4w2v-q235-vp99|npm|axios|package.json"
			require.NoError(t, s.RecordRemediation(ctx, "acme/web", key, shared.RemediationResponse{ID: "1", URL: "https://example.com/pull/1"}))
			require.NoError(t, s.RecordRemediation(ctx, "acme/web", key, shared.RemediationResponse{ID: "2", URL: "https://example.com/pull/2"}))
			require.NoError(t, s.RecordRemediation(ctx, "acme/api", key, shared.RemediationResponse{ID: "3"}))

			got, err = s.Remediations(ctx, "acme/web")
			require.NoError(t, err)
			assert.Equal(t, map[string]shared.RemediationResponse{
				key: {ID: "2", URL: "https://example.com/pull/2"},
			}, got)
		})
	}
}

func TestNew(t *testing.T) {
	s, err := New(config.Storage{Driver: config.StorageMemory}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(config.Storage{Driver: config.StorageSQLite, Path: ":memory:"}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(config.Storage{Driver: "postgres"}, hclog.NewNullLogger())
	assert.Error(t, err)
}
