// Package planner synthesizes remediation plans for confirmed hits.
package planner

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// Synthesizer builds plans with an optional backend and falls back to the
// deterministic one whenever that backend cannot deliver.
type Synthesizer struct {
	backend  Backend
	fallback *Deterministic
	logger   hclog.Logger
	now      func() time.Time
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithClock overrides the timestamp source used for plan metadata.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// NewSynthesizer returns a synthesizer preferring backend. A nil backend means
// deterministic plans only.
func NewSynthesizer(backend Backend, logger hclog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		backend:  backend,
		fallback: NewDeterministic(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the remediation plan for hit. It never fails: backend errors are
// logged and answered with the deterministic plan.
func (s *Synthesizer) Plan(ctx context.Context, hit shared.CriticalHit) shared.RemediationPlan {
	start := s.now()
	recommended := RecommendVersion(hit.Package.Version, hit.Vulnerability.FixedVersions)
	facts := NewFacts(hit, recommended)

	guidance, backend := s.guidance(ctx, facts)
	if strings.TrimSpace(guidance.Rationale) == "" {
		guidance.Rationale = rationale(facts)
	}

	return shared.RemediationPlan{
		Vulnerability: shared.VulnerabilityReference{
			ID:          hit.Vulnerability.ID,
			PackageName: hit.Vulnerability.PackageName,
			Ecosystem:   hit.Vulnerability.Ecosystem,
			Severity:    hit.Vulnerability.Severity,
			CVSSScore:   hit.Vulnerability.CVSSScore,
			Description: hit.Vulnerability.Description,
			References:  hit.Vulnerability.References,
		},
		Impact: shared.ImpactEvidence{
			ImpactLevel:    hit.ImpactLevel(),
			CurrentVersion: hit.Package.Version,
			SourceFile:     hit.Package.SourceFile,
			IsDirect:       hit.Package.IsDirect,
			Evidence:       hit.Evidence,
		},
		Analysis: shared.PlanAnalysis{
			ThreatScore:        hit.ThreatScore,
			Rationale:          guidance.Rationale,
			RecommendedVersion: recommended,
			Confidence:         ConfidenceFor(hit.Usage),
		},
		Migration: shared.MigrationGuide{
			BreakingChanges: guidance.BreakingChanges,
			Steps:           guidance.Steps,
			TestChecklist:   guidance.TestChecklist,
			Rollback:        guidance.Rollback,
		},
		Metadata: shared.GenerationMetadata{
			GeneratedAt: start,
			Backend:     backend,
			Elapsed:     s.now().Sub(start),
		},
	}
}

func (s *Synthesizer) guidance(ctx context.Context, facts Facts) (Guidance, string) {
	if s.backend != nil && s.backend.Available() {
		g, err := s.backend.Synthesize(ctx, facts)
		if err == nil {
			return g, s.backend.Name()
		}
		s.logger.Warn("synthesis backend failed, using deterministic plan",
			"backend", s.backend.Name(), "vulnerability", facts.VulnerabilityID, "package", facts.PackageName, "error", err)
	}
	g, _ := s.fallback.Synthesize(ctx, facts)
	return g, s.fallback.Name()
}

// ConfidenceFor grades how sure a plan is that the exposure is real.
func ConfidenceFor(usage shared.UsageRecord) shared.Confidence {
	switch {
	case usage.Imported:
		return shared.ConfidenceHigh
	case usage.Analyzed():
		return shared.ConfidenceMedium
	default:
		return shared.ConfidenceLow
	}
}

// RecommendVersion picks the upgrade target: the literal version of the fixed
// range, else the current version with its patch bumped, else "latest".
// A "v" prefix on the current version is carried over.
func RecommendVersion(current, fixedRange string) string {
	prefix := ""
	if strings.HasPrefix(strings.TrimSpace(current), "v") {
		prefix = "v"
	}

	if candidate := versionrange.LowerBound(fixedRange); candidate != "" && versionrange.Valid(candidate) {
		return prefix + candidate
	}
	if bumped, ok := versionrange.BumpPatch(current); ok {
		return prefix + bumped
	}
	return "latest"
}
