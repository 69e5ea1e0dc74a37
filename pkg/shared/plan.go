package shared

import "time"

// Confidence expresses how certain a remediation plan is about real exposure.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// VulnerabilityReference is the subset of a vulnerability quoted by a plan.
type VulnerabilityReference struct {
	ID          string   `json:"id"`
	PackageName string   `json:"package_name"`
	Ecosystem   string   `json:"ecosystem"`
	Severity    Severity `json:"severity"`
	CVSSScore   *float64 `json:"cvss_score,omitempty"`
	Description string   `json:"description,omitempty"`
	References  []string `json:"references,omitempty"`
}

// ImpactEvidence summarises the exposure the plan remediates.
type ImpactEvidence struct {
	ImpactLevel    ImpactLevel `json:"impact_level"`
	CurrentVersion string      `json:"current_version"`
	SourceFile     string      `json:"source_file"`
	IsDirect       bool        `json:"is_direct"`
	Evidence       Evidence    `json:"evidence"`
}

// PlanAnalysis holds the risk assessment part of a plan.
type PlanAnalysis struct {
	ThreatScore        int        `json:"threat_score"`
	Rationale          string     `json:"rationale"`
	RecommendedVersion string     `json:"recommended_version"`
	Confidence         Confidence `json:"confidence"`
}

// MigrationGuide holds the upgrade instructions of a plan.
type MigrationGuide struct {
	BreakingChanges []string `json:"breaking_changes"`
	Steps           []string `json:"steps"`
	TestChecklist   []string `json:"test_checklist"`
	Rollback        string   `json:"rollback"`
}

// GenerationMetadata records how a plan was produced.
type GenerationMetadata struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Backend     string        `json:"backend"`
	Elapsed     time.Duration `json:"elapsed"`
}

// RemediationPlan is the structured remediation for one confirmed hit.
type RemediationPlan struct {
	Vulnerability VulnerabilityReference `json:"vulnerability"`
	Impact        ImpactEvidence         `json:"impact"`
	Analysis      PlanAnalysis           `json:"analysis"`
	Migration     MigrationGuide         `json:"migration"`
	Metadata      GenerationMetadata     `json:"metadata"`
}
