package shared

import (
	"strings"
	"time"
)

// Ecosystem tags follow the OSV naming.
const (
	EcosystemNPM = "npm"
	EcosystemGo  = "Go"
)

// Severity is the advisory severity tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps free-form severity labels onto the four tiers.
// Unknown labels are treated as low.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high", "important":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// VulnerabilityRecord is a single advisory scoped to one package in one ecosystem.
type VulnerabilityRecord struct {
	ID               string    `json:"id"`
	PackageName      string    `json:"package_name"`
	Ecosystem        string    `json:"ecosystem"`
	Severity         Severity  `json:"severity"`
	CVSSScore        *float64  `json:"cvss_score,omitempty"`
	AffectedVersions string    `json:"affected_versions"`
	FixedVersions    string    `json:"fixed_versions"`
	Description      string    `json:"description"`
	References       []string  `json:"references,omitempty"`
	Aliases          []string  `json:"aliases,omitempty"`
	Source           string    `json:"source"`
	DiscoveredAt     time.Time `json:"discovered_at"`
	ZeroDay          bool      `json:"zero_day"`
	ExploitAvailable bool      `json:"exploit_available"`
	KnownExploited   bool      `json:"known_exploited"`
}

// HasAlias reports whether the record is known under the given identifier.
func (v VulnerabilityRecord) HasAlias(id string) bool {
	if strings.EqualFold(v.ID, id) {
		return true
	}
	for _, a := range v.Aliases {
		if strings.EqualFold(a, id) {
			return true
		}
	}
	return false
}

// RefineFlags applies intelligence flags from a newer copy of the same record.
// Exploitation facts never revert; zero-day status follows the newest intelligence.
func (v *VulnerabilityRecord) RefineFlags(newer VulnerabilityRecord) {
	v.KnownExploited = v.KnownExploited || newer.KnownExploited
	v.ExploitAvailable = v.ExploitAvailable || newer.ExploitAvailable
	v.ZeroDay = newer.ZeroDay
}

// PackageRecord is one resolved dependency of a repository.
// Identity is (Name, Ecosystem, SourceFile).
type PackageRecord struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Ecosystem  string `json:"ecosystem"`
	IsDirect   bool   `json:"is_direct"`
	SourceFile string `json:"source_file"`
}

// Key returns the uniqueness key of the package record.
func (p PackageRecord) Key() string {
	return strings.Join([]string{strings.ToLower(p.Name), strings.ToLower(p.Ecosystem), p.SourceFile}, "|")
}

// UsageRecord describes whether and where source code references a package.
type UsageRecord struct {
	PackageName    string    `json:"package_name"`
	Imported       bool      `json:"imported"`
	Files          []string  `json:"files,omitempty"`
	Patterns       []string  `json:"patterns,omitempty"`
	ReferenceCount int       `json:"reference_count"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// Analyzed reports whether the record comes from an actual source scan.
func (u UsageRecord) Analyzed() bool {
	return !u.AnalyzedAt.IsZero()
}

// Key returns the storage key of the record: one advisory for one package.
func (v VulnerabilityRecord) Key() string {
	return strings.Join([]string{v.ID, strings.ToLower(v.Ecosystem), strings.ToLower(v.PackageName)}, "|")
}
