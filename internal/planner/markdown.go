package planner

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const planTemplate = `## {{ .Vulnerability.ID }}: upgrade {{ .Vulnerability.PackageName }} to {{ .Analysis.RecommendedVersion }}

| | |
|---|---|
| Package | ` + "`{{ .Vulnerability.PackageName }}`" + ` ({{ .Vulnerability.Ecosystem }}) |
| Current version | {{ .Impact.CurrentVersion }} in ` + "`{{ .Impact.SourceFile }}`" + ` |
| Severity | {{ .Vulnerability.Severity }}{{ with .Vulnerability.CVSSScore }} (CVSS {{ cvss . }}){{ end }} |
| Impact | {{ .Impact.ImpactLevel }} |
| Threat score | {{ .Analysis.ThreatScore }}/100 |
| Confidence | {{ .Analysis.Confidence }} |
{{ with .Vulnerability.Description }}
{{ . }}
{{ end }}
### Analysis

{{ .Analysis.Rationale }}

{{ .Impact.Evidence.ManifestProof }}
{{ range .Impact.Evidence.RiskFactors }}
- {{ . }}{{ end }}
{{ with .Impact.Evidence.UsageProof }}
Referenced from:
{{ range . }}
- ` + "`{{ . }}`" + `{{ end }}
{{ end }}
### Breaking changes
{{ range .Migration.BreakingChanges }}
- {{ . }}{{ end }}

### Steps
{{ range $i, $step := .Migration.Steps }}
{{ inc $i }}. {{ $step }}{{ end }}

### Test checklist
{{ range .Migration.TestChecklist }}
- [ ] {{ . }}{{ end }}

### Rollback

{{ .Migration.Rollback }}
{{ with .Vulnerability.References }}
### References
{{ range . }}
- {{ . }}{{ end }}
{{ end }}
---
Generated by the {{ .Metadata.Backend }} backend at {{ .Metadata.GeneratedAt.UTC.Format "2006-01-02T15:04:05Z07:00" }}.
`

var markdown = template.Must(template.New("plan").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"cvss": func(f *float64) string { return fmt.Sprintf("%.1f", *f) },
}).Parse(planTemplate))

// Title is the one-line summary of a plan, used for change requests.
func Title(plan shared.RemediationPlan) string {
	return fmt.Sprintf("Upgrade %s to %s (%s)", plan.Vulnerability.PackageName, plan.Analysis.RecommendedVersion, plan.Vulnerability.ID)
}

// RenderMarkdown renders the plan as the body of a change request.
func RenderMarkdown(plan shared.RemediationPlan) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Execute(&buf, plan); err != nil {
		return "", fmt.Errorf("failed to render plan %s: %w", plan.Vulnerability.ID, err)
	}
	return buf.String(), nil
}
