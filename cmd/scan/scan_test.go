package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	sharederrors "github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

func sampleResult() shared.ScanResult {
	return shared.ScanResult{
		ID:              "scan-1",
		RepositoryID:    "acme/web",
		StartedAt:       time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2026, 5, 4, 10, 0, 3, 0, time.UTC),
		PackagesScanned: 2,
		Hits: []shared.CriticalHit{{
			Vulnerability: shared.VulnerabilityRecord{ID: "GHSA-4w2v-q235-vp99", PackageName: "axios", Severity: shared.SeverityHigh},
			Package:       shared.PackageRecord{Name: "axios", Version: "0.19.0", SourceFile: "package.json"},
			Usage:         shared.UsageRecord{PackageName: "axios", Imported: true, Files: []string{"src/api.js"}},
			ThreatScore:   80,
		}},
		CriticalHitCount: 1,
	}
}

func TestValidateScanArgs(t *testing.T) {
	tests := []struct {
		name    string
		options RunOptionsScan
		wantErr bool
	}{
		{name: "json", options: RunOptionsScan{Format: FormatJSON}},
		{name: "json with plans", options: RunOptionsScan{Format: FormatJSON, Plans: true}},
		{name: "sarif", options: RunOptionsScan{Format: FormatSARIF}},
		{name: "unknown format", options: RunOptionsScan{Format: "xml"}, wantErr: true},
		{name: "plans need json", options: RunOptionsScan{Format: FormatSARIF, Plans: true}, wantErr: true},
		{name: "negative history", options: RunOptionsScan{Format: FormatJSON, History: -1}, wantErr: true},
		{name: "server", options: RunOptionsScan{Format: FormatSARIF, Server: "http://localhost:9090"}},
		{name: "server without scheme", options: RunOptionsScan{Format: FormatJSON, Server: "localhost:9090"}, wantErr: true},
		{name: "server with plans", options: RunOptionsScan{Format: FormatJSON, Server: "https://vulnimpact.internal", Plans: true}, wantErr: true},
		{name: "server with history", options: RunOptionsScan{Format: FormatJSON, Server: "https://vulnimpact.internal", History: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScanArgs(&tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRenderJSON(t *testing.T) {
	plans := []shared.RemediationPlan{{Analysis: shared.PlanAnalysis{RecommendedVersion: "0.21.1"}}}

	data, err := render(FormatJSON, sampleResult(), plans)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	result := decoded["result"].(map[string]interface{})
	assert.Equal(t, "acme/web", result["repository_id"])
	hits := result["hits"].([]interface{})
	require.Len(t, hits, 1)
	assert.Equal(t, "CRITICAL_HIT", hits[0].(map[string]interface{})["impact_level"])
	assert.Len(t, decoded["plans"], 1)
}

func TestRenderJSONWithoutPlansOmitsThem(t *testing.T) {
	data, err := render(FormatJSON, sampleResult(), nil)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"plans"`)
}

func TestRenderSARIF(t *testing.T) {
	data, err := render(FormatSARIF, sampleResult(), nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "2.1.0"`)
	assert.Contains(t, string(data), "GHSA-4w2v-q235-vp99")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := render("xml", sampleResult(), nil)
	assert.Error(t, err)
}

func TestScanRemote(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "scanned", status: http.StatusOK},
		{name: "cycle running", status: http.StatusConflict, body: `{"error":"scan cycle already in progress"}`, wantErr: sharederrors.ErrCycleInProgress},
		{name: "not registered", status: http.StatusNotFound, body: `{"error":"not found"}`, wantErr: sharederrors.ErrNotFound},
		{name: "server failure", status: http.StatusInternalServerError, body: `{"error":"database is locked"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/scan/acme/web", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					_ = json.NewEncoder(w).Encode(sampleResult())
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			result, err := scanRemote(context.Background(), resty.New(), srv.URL+"/", "acme/web")
			switch {
			case tt.status == http.StatusOK:
				require.NoError(t, err)
				assert.Equal(t, "acme/web", result.RepositoryID)
				require.Len(t, result.Hits, 1)
				assert.Equal(t, shared.ImpactCriticalHit, result.Hits[0].ImpactLevel())
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), "database is locked")
			}
		})
	}
}
