package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// BackendDeterministic names the built-in backend.
const BackendDeterministic = "deterministic"

// Deterministic produces fixed-shape guidance from the facts alone.
type Deterministic struct{}

// NewDeterministic returns the built-in backend.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

func (d *Deterministic) Name() string    { return BackendDeterministic }
func (d *Deterministic) Available() bool { return true }

// Synthesize never fails.
func (d *Deterministic) Synthesize(_ context.Context, f Facts) (Guidance, error) {
	current := versionrange.Normalize(f.CurrentVersion)
	return Guidance{
		Rationale:       rationale(f),
		BreakingChanges: []string{breakingChangeNote(f.CurrentVersion, f.RecommendedVersion)},
		Steps: []string{
			fmt.Sprintf("Update %s from %s to %s in %s", f.PackageName, f.CurrentVersion, f.RecommendedVersion, f.SourceFile),
			fmt.Sprintf("Refresh the lockfile (%s)", lockfileCommand(f)),
			"Run the full test suite",
			fmt.Sprintf("Check build and runtime output for deprecation warnings from %s", f.PackageName),
		},
		TestChecklist: testChecklist(f),
		Rollback: fmt.Sprintf("Revert %s to %s in %s, restore the previous lockfile and redeploy the last known good build.",
			f.PackageName, current, f.SourceFile),
	}, nil
}

func breakingChangeNote(current, target string) string {
	from, okFrom := versionrange.Major(current)
	to, okTo := versionrange.Major(target)
	switch {
	case !okFrom || !okTo:
		return fmt.Sprintf("Could not compare %s with %s; review the upstream changelog for breaking changes.", current, target)
	case from != to:
		return fmt.Sprintf("Major version change (%d to %d): review the upstream changelog and migration guide for breaking API changes.", from, to)
	default:
		return fmt.Sprintf("Non-major upgrade within major version %d; expected to be backwards compatible.", from)
	}
}

func lockfileCommand(f Facts) string {
	switch strings.ToLower(f.Ecosystem) {
	case strings.ToLower(shared.EcosystemNPM):
		return fmt.Sprintf("npm install %s@%s", f.PackageName, f.RecommendedVersion)
	case strings.ToLower(shared.EcosystemGo):
		return fmt.Sprintf("go get %s@%s && go mod tidy", f.PackageName, f.RecommendedVersion)
	default:
		return "regenerate it with the package manager"
	}
}

func testChecklist(f Facts) []string {
	usage := fmt.Sprintf("Code paths that use %s behave as before", f.PackageName)
	if len(f.UsageFiles) > 0 {
		usage = fmt.Sprintf("Code paths that use %s behave as before: %s", f.PackageName, strings.Join(f.UsageFiles, ", "))
	}
	return []string{
		"Unit tests pass",
		usage,
		"Integration tests pass",
		"No new deprecation warnings or runtime errors",
	}
}

func rationale(f Facts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s is affected by %s (%s severity, threat score %d).",
		f.PackageName, f.CurrentVersion, f.VulnerabilityID, f.Severity, f.ThreatScore)
	switch {
	case f.Imported:
		fmt.Fprintf(&b, " The package is imported in %d file(s), so the vulnerable code is reachable.", len(f.UsageFiles))
	case f.UsageAnalyzed:
		b.WriteString(" The package is declared but not referenced by source code.")
	default:
		b.WriteString(" Source usage could not be analysed.")
	}
	fmt.Fprintf(&b, " Upgrading to %s removes the affected version.", f.RecommendedVersion)
	return b.String()
}
