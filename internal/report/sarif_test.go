package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

func hit(id, pkg string, imported bool, score int) shared.CriticalHit {
	h := shared.CriticalHit{
		Vulnerability: shared.VulnerabilityRecord{ID: id, PackageName: pkg, Ecosystem: shared.EcosystemNPM, Severity: shared.SeverityHigh, FixedVersions: ">=0.21.1"},
		Package:       shared.PackageRecord{Name: pkg, Version: "0.19.0", Ecosystem: shared.EcosystemNPM, IsDirect: true, SourceFile: "package.json"},
		ThreatScore:   score,
		Evidence:      shared.Evidence{ManifestProof: pkg + "@0.19.0 declared in package.json (direct dependency)"},
	}
	if imported {
		h.Usage = shared.UsageRecord{PackageName: pkg, Imported: true, Files: []string{"src/api.js", "src/client.js"}}
	}
	return h
}

func TestToSARIF(t *testing.T) {
	result := shared.ScanResult{
		RepositoryID: "acme/web",
		Hits: []shared.CriticalHit{
			hit("GHSA-1", "axios", true, 100),
			hit("GHSA-1", "axios-mock", false, 21),
			hit("GHSA-2", "lodash", true, 40),
		},
	}

	report, err := ToSARIF(result)
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)
	run := report.Runs[0]

	assert.Equal(t, "vulnimpact", run.Tool.Driver.Name)
	assert.Len(t, run.Tool.Driver.Rules, 2, "rules are shared between hits of the same vulnerability")
	require.Len(t, run.Results, 3)

	tests := []struct {
		level     string
		locations int
	}{
		{level: "error", locations: 3},
		{level: "note", locations: 1},
		{level: "warning", locations: 3},
	}
	for i, tt := range tests {
		res := run.Results[i]
		assert.Equal(t, tt.level, *res.Level)
		assert.Len(t, res.Locations, tt.locations)
		assert.Equal(t, "package.json", *res.Locations[0].PhysicalLocation.ArtifactLocation.URI)
	}
	assert.Contains(t, *run.Results[0].Message.Text, "CRITICAL_HIT: axios 0.19.0 (GHSA-1, threat score 100)")
	assert.Contains(t, *run.Results[1].Message.Text, "LOW_PRIORITY")
}

func TestWriteSARIFEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSARIF(&buf, shared.ScanResult{RepositoryID: "acme/empty"}))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "2.1.0", doc["version"])
	runs := doc["runs"].([]interface{})
	assert.Len(t, runs, 1)
}
