package intel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

func serveFile(t *testing.T, w http.ResponseWriter, name string) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	assert.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	assert.NoError(t, err)
}

func ghsaServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu       sync.Mutex
		modified []string
		srv      *httptest.Server
	)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/advisories", r.URL.Path)
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		q := r.URL.Query()
		switch {
		case q.Get("after") == "page2":
			serveFile(t, w, "ghsa_npm_page2.json")
		case q.Get("ecosystem") == "npm":
			mu.Lock()
			modified = append(modified, q.Get("modified"))
			mu.Unlock()
			assert.Equal(t, "asc", q.Get("direction"))
			w.Header().Set("Link", `<`+srv.URL+`/advisories?after=page2>; rel="next", <`+srv.URL+`/advisories>; rel="first"`)
			serveFile(t, w, "ghsa_npm_page1.json")
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &modified
}

func TestGHSAFeedFetch(t *testing.T) {
	srv, modified := ghsaServer(t)
	feed := NewGHSAFeed(resty.New(), WithGHSAURL(srv.URL), WithGHSAEcosystems("npm", "go"))

	records, err := feed.FetchLatestVulnerabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	axios := records[0]
	assert.Equal(t, "GHSA-4w2v-q235-vp99", axios.ID)
	assert.Equal(t, "axios", axios.PackageName)
	assert.Equal(t, shared.EcosystemNPM, axios.Ecosystem)
	assert.Equal(t, shared.SeverityMedium, axios.Severity)
	require.NotNil(t, axios.CVSSScore)
	assert.Equal(t, 5.9, *axios.CVSSScore)
	assert.Equal(t, "< 0.21.1", axios.AffectedVersions)
	assert.Equal(t, ">=0.21.1", axios.FixedVersions)
	assert.Equal(t, []string{"CVE-2020-28168"}, axios.Aliases)
	assert.Equal(t, SourceGHSA, axios.Source)
	assert.False(t, axios.ZeroDay)
	assert.False(t, axios.ExploitAvailable)
	assert.Equal(t, time.Date(2021, 1, 4, 20, 58, 16, 0, time.UTC), axios.DiscoveredAt.UTC())

	lodash := records[1]
	assert.Equal(t, "lodash", lodash.PackageName)
	assert.Equal(t, ">= 3.7.0, < 4.17.19 || < 3.7.0", lodash.AffectedVersions)
	assert.Equal(t, ">=4.17.19", lodash.FixedVersions)
	assert.Nil(t, lodash.CVSSScore)
	assert.Equal(t, "Prototype Pollution in lodash", lodash.Description)
	assert.True(t, lodash.ExploitAvailable)
	assert.False(t, lodash.KnownExploited)

	lodashES := records[2]
	assert.Equal(t, "lodash-es", lodashES.PackageName)
	assert.True(t, lodashES.ZeroDay)
	assert.Empty(t, lodashES.FixedVersions)

	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), feed.Since().UTC())

	_, err = feed.FetchLatestVulnerabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", ">=2024-03-01T10:00:00Z"}, *modified)
}

func TestGHSAFeedErrorKeepsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := NewGHSAFeed(resty.New(), WithGHSAURL(srv.URL), WithGHSAEcosystems("npm"), WithGHSASince(since))

	_, err := feed.FetchLatestVulnerabilities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch github security advisories for npm")
	assert.Equal(t, since, feed.Since())
}

func TestGHSAFeedPageLimit(t *testing.T) {
	srv, _ := ghsaServer(t)
	feed := NewGHSAFeed(resty.New(), WithGHSAURL(srv.URL), WithGHSAEcosystems("npm"), WithGHSAPaging(50, 1))

	records, err := feed.FetchLatestVulnerabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "axios", records[0].PackageName)
}

func kevServer(t *testing.T, file string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		serveFile(t, w, file)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKEVEnricher(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{name: "happy path", file: "kev.json"},
		{name: "sad path, count mismatch", file: "kev_count_mismatch.json", wantErr: "KEV catalog count mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := kevServer(t, tt.file)
			records := []shared.VulnerabilityRecord{
				{ID: "GHSA-p6mc-m468-83gw", PackageName: "lodash", Aliases: []string{"cve-2020-8203"}},
				{ID: "GHSA-4w2v-q235-vp99", PackageName: "axios", Aliases: []string{"CVE-2020-28168"}},
			}

			err := NewKEVEnricher(resty.New(), srv.URL).Enrich(context.Background(), records)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.False(t, records[0].KnownExploited)
				return
			}
			require.NoError(t, err)
			assert.True(t, records[0].KnownExploited)
			assert.True(t, records[0].ExploitAvailable)
			assert.False(t, records[1].KnownExploited)
		})
	}
}

type staticFeed struct {
	name    string
	records []shared.VulnerabilityRecord
	err     error
}

func (f staticFeed) Name() string { return f.name }

func (f staticFeed) FetchLatestVulnerabilities(context.Context) ([]shared.VulnerabilityRecord, error) {
	return f.records, f.err
}

func TestAggregator(t *testing.T) {
	srv := kevServer(t, "kev.json")

	first := staticFeed{name: "first", records: []shared.VulnerabilityRecord{
		{ID: "GHSA-4w2v-q235-vp99", PackageName: "axios", Ecosystem: shared.EcosystemNPM, Severity: shared.SeverityHigh},
		{ID: "GHSA-p6mc-m468-83gw", PackageName: "lodash", Ecosystem: shared.EcosystemNPM, Aliases: []string{"CVE-2020-8203"}},
	}}
	broken := staticFeed{name: "broken", err: errors.New("feed unreachable")}
	second := staticFeed{name: "second", records: []shared.VulnerabilityRecord{
		{ID: "GHSA-4w2v-q235-vp99", PackageName: "axios", Ecosystem: shared.EcosystemNPM, Severity: shared.SeverityLow, ExploitAvailable: true},
	}}

	agg := NewAggregator(hclog.NewNullLogger(), []Feed{first, broken, second}, NewKEVEnricher(resty.New(), srv.URL))
	records, err := agg.FetchLatestVulnerabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "axios", records[0].PackageName)
	assert.Equal(t, shared.SeverityHigh, records[0].Severity, "content of the first copy is kept")
	assert.True(t, records[0].ExploitAvailable)
	assert.False(t, records[0].KnownExploited)

	assert.Equal(t, "lodash", records[1].PackageName)
	assert.False(t, records[1].KnownExploited, "flags are refined separately")

	refined := agg.Refine(context.Background(), records)
	require.Len(t, refined, 1)
	assert.Equal(t, "lodash", refined[0].PackageName)
	assert.True(t, refined[0].KnownExploited)
	assert.False(t, records[1].KnownExploited, "input is left untouched")
}

func TestAggregatorRefineReportsOnlyChanges(t *testing.T) {
	srv := kevServer(t, "kev.json")
	agg := NewAggregator(hclog.NewNullLogger(), nil, NewKEVEnricher(resty.New(), srv.URL))

	tests := []struct {
		name    string
		records []shared.VulnerabilityRecord
		want    []string
	}{
		{name: "empty corpus", records: nil, want: nil},
		{
			name: "newly listed alias",
			records: []shared.VulnerabilityRecord{
				{ID: "GHSA-p6mc-m468-83gw", PackageName: "lodash", Aliases: []string{"CVE-2020-8203"}},
				{ID: "GHSA-4w2v-q235-vp99", PackageName: "axios"},
			},
			want: []string{"GHSA-p6mc-m468-83gw"},
		},
		{
			name: "already flagged",
			records: []shared.VulnerabilityRecord{
				{ID: "CVE-2021-44228", PackageName: "log4j-core", KnownExploited: true, ExploitAvailable: true},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range agg.Refine(context.Background(), tt.records) {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregatorEnricherFailureIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	feed := staticFeed{name: "only", records: []shared.VulnerabilityRecord{{ID: "GHSA-1", PackageName: "a", Ecosystem: shared.EcosystemNPM}}}
	agg := NewAggregator(hclog.NewNullLogger(), []Feed{feed}, NewKEVEnricher(resty.New(), srv.URL))
	records, err := agg.FetchLatestVulnerabilities(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Empty(t, agg.Refine(context.Background(), records))
}
