// Package report exports scan results in interchange formats.
package report

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const (
	toolName = "vulnimpact"
	toolURI  = "https://github.com/scan-io-git/vulnimpact"
)

// errorThreshold is the threat score from which a critical hit is reported as an error.
const errorThreshold = 70

// ToSARIF converts a scan result into a SARIF 2.1.0 report: one rule per
// vulnerability and one result per hit, located at the manifest and at every
// file that references the package.
func ToSARIF(result shared.ScanResult) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(toolName, toolURI)
	for _, hit := range result.Hits {
		description := hit.Vulnerability.Description
		if description == "" {
			description = fmt.Sprintf("%s affects %s", hit.Vulnerability.ID, hit.Vulnerability.PackageName)
		}
		rule := run.AddRule(hit.Vulnerability.ID).
			WithDescription(description).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{
				Level: severityLevel(hit.Vulnerability.Severity),
			})

		run.AddResult(sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(message(hit))).
			WithLevel(level(hit)).
			WithLocations(locations(hit)))
	}
	report.AddRun(run)
	return report, nil
}

// WriteSARIF writes the SARIF report of result to w.
func WriteSARIF(w io.Writer, result shared.ScanResult) error {
	report, err := ToSARIF(result)
	if err != nil {
		return err
	}
	return report.PrettyWrite(w)
}

func message(hit shared.CriticalHit) string {
	msg := fmt.Sprintf("%s: %s %s (%s, threat score %d). %s",
		hit.ImpactLevel(), hit.Package.Name, hit.Package.Version, hit.Vulnerability.ID, hit.ThreatScore, hit.Evidence.ManifestProof)
	if hit.Vulnerability.FixedVersions != "" {
		msg += fmt.Sprintf(" Fixed in %s.", hit.Vulnerability.FixedVersions)
	}
	return msg
}

func locations(hit shared.CriticalHit) []*sarif.Location {
	paths := append([]string{hit.Package.SourceFile}, hit.Usage.Files...)
	locs := make([]*sarif.Location, 0, len(paths))
	for _, path := range paths {
		locs = append(locs, sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(path)),
		))
	}
	return locs
}

// level reports unreferenced packages as notes regardless of severity.
func level(hit shared.CriticalHit) string {
	switch {
	case hit.ImpactLevel() != shared.ImpactCriticalHit:
		return "note"
	case hit.ThreatScore >= errorThreshold:
		return "error"
	default:
		return "warning"
	}
}

func severityLevel(severity shared.Severity) string {
	switch severity {
	case shared.SeverityCritical, shared.SeverityHigh:
		return "error"
	case shared.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
