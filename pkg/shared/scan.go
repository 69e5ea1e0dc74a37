package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// ImpactLevel separates referenced vulnerable dependencies from merely declared ones.
type ImpactLevel string

const (
	ImpactCriticalHit ImpactLevel = "CRITICAL_HIT"
	ImpactLowPriority ImpactLevel = "LOW_PRIORITY"
)

// Cycle outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// Repository scan and remediation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// Evidence explains why a hit was classified and scored the way it was.
type Evidence struct {
	ManifestProof string   `json:"manifest_proof"`
	UsageProof    []string `json:"usage_proof,omitempty"`
	RiskFactors   []string `json:"risk_factors,omitempty"`
}

// CriticalHit joins a vulnerability, the affected package and its usage.
// The impact level is derived from Usage.Imported and cannot be set.
type CriticalHit struct {
	Vulnerability VulnerabilityRecord `json:"vulnerability"`
	Package       PackageRecord       `json:"package"`
	Usage         UsageRecord         `json:"usage"`
	ThreatScore   int                 `json:"threat_score"`
	Evidence      Evidence            `json:"evidence"`
}

// ImpactLevel returns CRITICAL_HIT iff the package is imported by source code.
func (h CriticalHit) ImpactLevel() ImpactLevel {
	if h.Usage.Imported {
		return ImpactCriticalHit
	}
	return ImpactLowPriority
}

// Key identifies the same finding across scan cycles.
func (h CriticalHit) Key() string {
	return fmt.Sprintf("%s|%s", h.Vulnerability.ID, h.Package.Key())
}

// MarshalJSON adds the derived impact level to the encoded hit.
func (h CriticalHit) MarshalJSON() ([]byte, error) {
	type plain CriticalHit
	return json.Marshal(struct {
		plain
		ImpactLevel ImpactLevel `json:"impact_level"`
	}{plain(h), h.ImpactLevel()})
}

// UnmarshalJSON ignores any encoded impact level; it is always recomputed.
func (h *CriticalHit) UnmarshalJSON(data []byte) error {
	type plain CriticalHit
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*h = CriticalHit(p)
	return nil
}

// ScanResult is the outcome of one pipeline pass over one repository.
type ScanResult struct {
	ID                        string        `json:"id"`
	RepositoryID              string        `json:"repository_id"`
	StartedAt                 time.Time     `json:"started_at"`
	FinishedAt                time.Time     `json:"finished_at"`
	PackagesScanned           int           `json:"packages_scanned"`
	VulnerabilitiesConsidered int           `json:"vulnerabilities_considered"`
	CriticalHitCount          int           `json:"critical_hits"`
	LowPriorityCount          int           `json:"low_priority_hits"`
	Hits                      []CriticalHit `json:"hits"`
	Error                     string        `json:"error,omitempty"`
}

// Degraded reports whether the scan failed and produced an empty result.
func (r ScanResult) Degraded() bool {
	return r.Error != ""
}

// CriticalHits returns only the hits classified as CRITICAL_HIT.
func (r ScanResult) CriticalHits() []CriticalHit {
	var hits []CriticalHit
	for _, h := range r.Hits {
		if h.ImpactLevel() == ImpactCriticalHit {
			hits = append(hits, h)
		}
	}
	return hits
}

// Tally recomputes the hit counters from the hit list.
func (r *ScanResult) Tally() {
	r.CriticalHitCount, r.LowPriorityCount = 0, 0
	for _, h := range r.Hits {
		if h.ImpactLevel() == ImpactCriticalHit {
			r.CriticalHitCount++
		} else {
			r.LowPriorityCount++
		}
	}
}
