// Package scoring classifies vulnerability matches and computes threat scores.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/scan-io-git/vulnimpact/internal/matcher"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Weights are the multipliers applied on top of the severity base.
type Weights struct {
	TierBase map[shared.Severity]float64
	// CVSSScale maps a 0-10 CVSS score onto the 0-100 axis.
	CVSSScale float64

	Imported          float64
	ReferenceBonus    float64
	MinReferenceBonus float64
	MaxReferenceBonus float64
	Unimported        float64

	Direct         float64
	ZeroDay        float64
	KnownExploited float64
	Exploit        float64

	// Saturation is the raw score at which the final score reaches ~63.
	// Zero disables saturation and clamps the raw score instead.
	Saturation float64
}

// DefaultWeights saturate softly so stacked factors keep ordering hits near the top.
func DefaultWeights() Weights {
	return Weights{
		TierBase: map[shared.Severity]float64{
			shared.SeverityCritical: 90,
			shared.SeverityHigh:     70,
			shared.SeverityMedium:   45,
			shared.SeverityLow:      20,
		},
		CVSSScale:         10,
		Imported:          1.5,
		ReferenceBonus:    1,
		MinReferenceBonus: 1,
		MaxReferenceBonus: 10,
		Unimported:        0.3,
		Direct:            1.1,
		ZeroDay:           1.3,
		KnownExploited:    1.4,
		Exploit:           1.2,
		Saturation:        100,
	}
}

// Scorer computes threat scores and evidence.
type Scorer struct {
	weights Weights
}

// NewScorer returns a scorer using w.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Base returns the severity base on the 0-100 axis. A CVSS score wins over the tier.
func (s *Scorer) Base(v shared.VulnerabilityRecord) float64 {
	if v.CVSSScore != nil {
		return clamp(*v.CVSSScore*s.weights.CVSSScale, 0, 100)
	}
	if base, ok := s.weights.TierBase[v.Severity]; ok {
		return base
	}
	return s.weights.TierBase[shared.SeverityLow]
}

// Score returns the threat score in [0, 100]. A nil usage means usage is
// unknown and leaves the base unchanged by the usage step.
func (s *Scorer) Score(v shared.VulnerabilityRecord, p shared.PackageRecord, usage *shared.UsageRecord) int {
	w := s.weights
	score := s.Base(v)

	switch {
	case usage == nil:
	case usage.Imported:
		bonus := clamp(float64(usage.ReferenceCount)*w.ReferenceBonus, w.MinReferenceBonus, w.MaxReferenceBonus)
		score = score*w.Imported + bonus
	default:
		score *= w.Unimported
	}

	if p.IsDirect {
		score *= w.Direct
	}
	if v.ZeroDay {
		score *= w.ZeroDay
	}
	if v.KnownExploited {
		score *= w.KnownExploited
	}
	if v.ExploitAvailable {
		score *= w.Exploit
	}

	return int(math.Round(s.saturate(score)))
}

func (s *Scorer) saturate(raw float64) float64 {
	if s.weights.Saturation <= 0 {
		return clamp(raw, 0, 100)
	}
	return clamp(100*(1-math.Exp(-raw/s.weights.Saturation)), 0, 100)
}

// Classify turns matches into critical hits sorted by score, descending.
// Packages without an entry in usages are scored in usage-unknown mode.
func (s *Scorer) Classify(matches []matcher.Match, usages map[string]shared.UsageRecord) []shared.CriticalHit {
	hits := make([]shared.CriticalHit, 0, len(matches))
	for _, m := range matches {
		var usagePtr *shared.UsageRecord
		usage, known := usages[m.Package.Name]
		if known {
			usagePtr = &usage
		} else {
			usage = shared.UsageRecord{PackageName: m.Package.Name}
		}

		hits = append(hits, shared.CriticalHit{
			Vulnerability: m.Vulnerability,
			Package:       m.Package,
			Usage:         usage,
			ThreatScore:   s.Score(m.Vulnerability, m.Package, usagePtr),
			Evidence:      s.Evidence(m.Vulnerability, m.Package, usagePtr),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.ThreatScore != b.ThreatScore {
			return a.ThreatScore > b.ThreatScore
		}
		if a.Vulnerability.ID != b.Vulnerability.ID {
			return a.Vulnerability.ID < b.Vulnerability.ID
		}
		if a.Package.Name != b.Package.Name {
			return a.Package.Name < b.Package.Name
		}
		return a.Package.SourceFile < b.Package.SourceFile
	})
	return hits
}

type factor struct {
	text   string
	weight float64
}

// Evidence explains a hit: what was declared, where it is used and which
// factors drove the score, strongest first.
func (s *Scorer) Evidence(v shared.VulnerabilityRecord, p shared.PackageRecord, usage *shared.UsageRecord) shared.Evidence {
	w := s.weights
	kind := "transitive dependency"
	if p.IsDirect {
		kind = "direct dependency"
	}
	evidence := shared.Evidence{
		ManifestProof: fmt.Sprintf("%s@%s declared in %s (%s)", p.Name, p.Version, p.SourceFile, kind),
	}

	var factors []factor
	if v.KnownExploited {
		factors = append(factors, factor{"known exploited vulnerability (CISA KEV)", w.KnownExploited})
	}
	if v.ZeroDay {
		factors = append(factors, factor{"zero-day: no fixed version published", w.ZeroDay})
	}
	if v.ExploitAvailable {
		factors = append(factors, factor{"public exploit code available", w.Exploit})
	}

	switch {
	case usage == nil:
		factors = append(factors, factor{"usage not analysed", 1})
	case usage.Imported:
		evidence.UsageProof = append([]string{}, usage.Files...)
		factors = append(factors, factor{fmt.Sprintf("actively imported in %d file(s)", len(usage.Files)), w.Imported})
	default:
		factors = append(factors, factor{"present in dependencies but not directly referenced by source code", w.Unimported})
	}

	if p.IsDirect {
		factors = append(factors, factor{"direct dependency", w.Direct})
	} else {
		factors = append(factors, factor{"transitive dependency", 1})
	}

	if v.Severity == shared.SeverityCritical || v.Severity == shared.SeverityHigh {
		text := fmt.Sprintf("%s severity", v.Severity)
		if v.CVSSScore != nil {
			text = fmt.Sprintf("%s severity score (%.1f)", v.Severity, *v.CVSSScore)
		}
		factors = append(factors, factor{text, 1 + s.Base(v)/100})
	}

	sort.SliceStable(factors, func(i, j int) bool { return factors[i].weight > factors[j].weight })
	for _, f := range factors {
		evidence.RiskFactors = append(evidence.RiskFactors, f.text)
	}
	return evidence
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
