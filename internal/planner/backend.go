package planner

import (
	"context"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Facts is everything a backend may use to phrase a remediation.
type Facts struct {
	VulnerabilityID    string          `json:"vulnerability_id"`
	Description        string          `json:"description,omitempty"`
	Severity           shared.Severity `json:"severity"`
	CVSSScore          *float64        `json:"cvss_score,omitempty"`
	PackageName        string          `json:"package_name"`
	Ecosystem          string          `json:"ecosystem"`
	SourceFile         string          `json:"source_file"`
	IsDirect           bool            `json:"is_direct"`
	CurrentVersion     string          `json:"current_version"`
	FixedVersions      string          `json:"fixed_versions,omitempty"`
	RecommendedVersion string          `json:"recommended_version"`
	Imported           bool            `json:"imported"`
	UsageAnalyzed      bool            `json:"usage_analyzed"`
	UsageFiles         []string        `json:"usage_files,omitempty"`
	ThreatScore        int             `json:"threat_score"`
	RiskFactors        []string        `json:"risk_factors,omitempty"`
}

// Guidance is the part of a plan a backend produces.
type Guidance struct {
	Rationale       string   `json:"rationale"`
	BreakingChanges []string `json:"breaking_changes"`
	Steps           []string `json:"steps"`
	TestChecklist   []string `json:"test_checklist"`
	Rollback        string   `json:"rollback"`
}

// Backend phrases migration guidance from facts.
type Backend interface {
	Name() string
	// Available reports whether the backend is configured to be used at all.
	Available() bool
	Synthesize(ctx context.Context, facts Facts) (Guidance, error)
}

// NewFacts collects the facts of a hit for a given target version.
func NewFacts(hit shared.CriticalHit, recommended string) Facts {
	return Facts{
		VulnerabilityID:    hit.Vulnerability.ID,
		Description:        hit.Vulnerability.Description,
		Severity:           hit.Vulnerability.Severity,
		CVSSScore:          hit.Vulnerability.CVSSScore,
		PackageName:        hit.Package.Name,
		Ecosystem:          hit.Package.Ecosystem,
		SourceFile:         hit.Package.SourceFile,
		IsDirect:           hit.Package.IsDirect,
		CurrentVersion:     hit.Package.Version,
		FixedVersions:      hit.Vulnerability.FixedVersions,
		RecommendedVersion: recommended,
		Imported:           hit.Usage.Imported,
		UsageAnalyzed:      hit.Usage.Analyzed(),
		UsageFiles:         hit.Usage.Files,
		ThreatScore:        hit.ThreatScore,
		RiskFactors:        hit.Evidence.RiskFactors,
	}
}
