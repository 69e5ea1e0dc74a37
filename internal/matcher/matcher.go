// Package matcher joins resolved packages against the vulnerability corpus.
package matcher

import (
	"sort"
	"strings"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Match pairs a package with a vulnerability whose affected range contains its version.
type Match struct {
	Package       shared.PackageRecord
	Vulnerability shared.VulnerabilityRecord
}

// Result holds the matches and how many vulnerabilities were evaluated.
type Result struct {
	Matches []Match
	// Considered counts vulnerabilities sharing a name and ecosystem with at least one package.
	Considered int
}

// Find returns every (package, vulnerability) pair with equal name and
// ecosystem where the package version lies in the affected range. Matches
// follow package order, then vulnerability ID.
func Find(packages []shared.PackageRecord, vulns []shared.VulnerabilityRecord) Result {
	index := make(map[string][]shared.VulnerabilityRecord)
	for _, v := range vulns {
		k := key(v.PackageName, v.Ecosystem)
		index[k] = append(index[k], v)
	}
	for k := range index {
		sort.SliceStable(index[k], func(i, j int) bool { return index[k][i].ID < index[k][j].ID })
	}

	var result Result
	considered := make(map[string]struct{})
	for _, p := range packages {
		for _, v := range index[key(p.Name, p.Ecosystem)] {
			considered[v.ID+"|"+key(v.PackageName, v.Ecosystem)] = struct{}{}
			if versionrange.Satisfies(p.Version, AffectedRange(v)) {
				result.Matches = append(result.Matches, Match{Package: p, Vulnerability: v})
			}
		}
	}
	result.Considered = len(considered)
	return result
}

// AffectedRange returns the record's affected range. Records that only carry a
// fixed range are affected below its lower bound.
func AffectedRange(v shared.VulnerabilityRecord) string {
	if strings.TrimSpace(v.AffectedVersions) != "" {
		return v.AffectedVersions
	}
	if lb := versionrange.LowerBound(v.FixedVersions); lb != "" {
		return "<" + lb
	}
	return ""
}

func key(name, ecosystem string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(ecosystem))
}
