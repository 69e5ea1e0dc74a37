package shared

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepositoryID(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected RepositoryRef
		wantErr  bool
	}{
		{name: "owner and name", input: "acme/web", expected: RepositoryRef{Namespace: "acme", Repository: "web"}},
		{name: "surrounding slashes", input: "/acme/web/", expected: RepositoryRef{Namespace: "acme", Repository: "web"}},
		{name: "nested namespace", input: "group/sub/web", expected: RepositoryRef{Namespace: "group/sub", Repository: "web"}},
		{name: "missing owner", input: "web", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRepositoryID(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRegistrationDue(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	never := RepositoryRegistration{ScanInterval: time.Hour}
	assert.True(t, never.Due(now), "never scanned repositories are always due")

	recent := RepositoryRegistration{ScanInterval: time.Hour, LastScannedAt: now.Add(-30 * time.Minute)}
	assert.False(t, recent.Due(now))

	stale := RepositoryRegistration{ScanInterval: time.Hour, LastScannedAt: now.Add(-time.Hour)}
	assert.True(t, stale.Due(now))

	noInterval := RepositoryRegistration{LastScannedAt: now}
	assert.True(t, noInterval.Due(now))
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("CRITICAL"))
	assert.Equal(t, SeverityHigh, ParseSeverity("important"))
	assert.Equal(t, SeverityMedium, ParseSeverity(" moderate "))
	assert.Equal(t, SeverityLow, ParseSeverity("unknown"))
}

func TestRefineFlags(t *testing.T) {
	v := VulnerabilityRecord{ID: "GHSA-1", KnownExploited: true, ZeroDay: true}
	v.RefineFlags(VulnerabilityRecord{ID: "GHSA-1", ExploitAvailable: true})

	assert.True(t, v.KnownExploited, "known exploited never reverts")
	assert.True(t, v.ExploitAvailable)
	assert.False(t, v.ZeroDay, "zero-day follows the newest intelligence")
}

func TestCriticalHitImpactLevel(t *testing.T) {
	hit := CriticalHit{Usage: UsageRecord{Imported: true}}
	assert.Equal(t, ImpactCriticalHit, hit.ImpactLevel())

	hit.Usage.Imported = false
	assert.Equal(t, ImpactLowPriority, hit.ImpactLevel())
}

func TestCriticalHitJSON(t *testing.T) {
	hit := CriticalHit{
		Vulnerability: VulnerabilityRecord{ID: "GHSA-4w2v-q235-vp99"},
		Package:       PackageRecord{Name: "axios", Version: "0.19.0", Ecosystem: EcosystemNPM},
		Usage:         UsageRecord{PackageName: "axios", Imported: true, Files: []string{"src/api.js"}},
		ThreatScore:   100,
	}

	data, err := json.Marshal(hit)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"impact_level":"CRITICAL_HIT"`)

	// a forged level in the payload is ignored
	forged := []byte(`{"usage":{"imported":false},"impact_level":"CRITICAL_HIT"}`)
	var decoded CriticalHit
	require.NoError(t, json.Unmarshal(forged, &decoded))
	assert.Equal(t, ImpactLowPriority, decoded.ImpactLevel())
}

func TestScanResultTally(t *testing.T) {
	result := ScanResult{Hits: []CriticalHit{
		{Usage: UsageRecord{Imported: true}},
		{Usage: UsageRecord{Imported: false}},
		{Usage: UsageRecord{Imported: true}},
	}}
	result.Tally()

	assert.Equal(t, 2, result.CriticalHitCount)
	assert.Equal(t, 1, result.LowPriorityCount)
	assert.Len(t, result.CriticalHits(), 2)
	assert.False(t, result.Degraded())
}

func TestForEachBounded(t *testing.T) {
	values := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var running, peak int32
	var mu sync.Mutex
	sum := 0

	ForEachBounded(3, values, func(_ int, v int) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		sum += v
		mu.Unlock()
		atomic.AddInt32(&running, -1)
	})

	assert.Equal(t, 36, sum)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}
