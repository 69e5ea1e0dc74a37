package intel

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/xerrors"

	"github.com/scan-io-git/vulnimpact/internal/versionrange"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const (
	SourceGHSA = "ghsa"

	ghsaURL         = "https://api.github.com"
	ghsaAPIVersion  = "2022-11-28"
	defaultPerPage  = 100
	defaultMaxPages = 10
)

var (
	nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

	exploitMarkers = []string{"exploit-db.com", "packetstormsecurity", "/exploit", "/poc", "-poc"}
)

type ghsaAdvisory struct {
	GHSAID      string     `json:"ghsa_id"`
	CVEID       *string    `json:"cve_id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	References  []string   `json:"references"`
	PublishedAt time.Time  `json:"published_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	WithdrawnAt *time.Time `json:"withdrawn_at"`
	Identifiers []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifiers"`
	CVSS *struct {
		Score *float64 `json:"score"`
	} `json:"cvss"`
	Vulnerabilities []ghsaVulnerability `json:"vulnerabilities"`
}

type ghsaVulnerability struct {
	Package *struct {
		Ecosystem string `json:"ecosystem"`
		Name      string `json:"name"`
	} `json:"package"`
	VulnerableVersionRange string  `json:"vulnerable_version_range"`
	FirstPatchedVersion    *string `json:"first_patched_version"`
}

// GHSAFeed reads the GitHub global security advisories API. It remembers the
// newest update time it has seen and only asks for advisories modified since.
type GHSAFeed struct {
	client     *resty.Client
	url        string
	token      string
	ecosystems []string
	perPage    int
	maxPages   int

	mu    sync.Mutex
	since time.Time
}

type GHSAOption func(*GHSAFeed)

func WithGHSAURL(url string) GHSAOption {
	return func(f *GHSAFeed) { f.url = strings.TrimRight(url, "/") }
}

func WithGHSAToken(token string) GHSAOption {
	return func(f *GHSAFeed) { f.token = token }
}

func WithGHSAEcosystems(ecosystems ...string) GHSAOption {
	return func(f *GHSAFeed) { f.ecosystems = ecosystems }
}

func WithGHSAPaging(perPage, maxPages int) GHSAOption {
	return func(f *GHSAFeed) {
		if perPage > 0 {
			f.perPage = perPage
		}
		if maxPages > 0 {
			f.maxPages = maxPages
		}
	}
}

// WithGHSASince sets the initial modification cursor.
func WithGHSASince(since time.Time) GHSAOption {
	return func(f *GHSAFeed) { f.since = since }
}

// NewGHSAFeed creates the feed. The npm and go ecosystems are queried unless
// configured otherwise.
func NewGHSAFeed(client *resty.Client, opts ...GHSAOption) *GHSAFeed {
	f := &GHSAFeed{
		client:     client,
		url:        ghsaURL,
		ecosystems: []string{"npm", "go"},
		perPage:    defaultPerPage,
		maxPages:   defaultMaxPages,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *GHSAFeed) Name() string { return SourceGHSA }

// Since returns the current modification cursor.
func (f *GHSAFeed) Since() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since
}

// FetchLatestVulnerabilities returns one record per advisory and affected package.
// The cursor only moves forward when every ecosystem was fetched.
func (f *GHSAFeed) FetchLatestVulnerabilities(ctx context.Context) ([]shared.VulnerabilityRecord, error) {
	since := f.Since()
	newest := since

	var records []shared.VulnerabilityRecord
	for _, ecosystem := range f.ecosystems {
		advisories, err := f.fetchEcosystem(ctx, ecosystem, since)
		if err != nil {
			return nil, xerrors.Errorf("failed to fetch github security advisories for %s: %w", ecosystem, err)
		}
		for _, adv := range advisories {
			if adv.UpdatedAt.After(newest) {
				newest = adv.UpdatedAt
			}
			records = append(records, convertAdvisory(adv)...)
		}
	}

	f.mu.Lock()
	if newest.After(f.since) {
		f.since = newest
	}
	f.mu.Unlock()
	return records, nil
}

func (f *GHSAFeed) fetchEcosystem(ctx context.Context, ecosystem string, since time.Time) ([]ghsaAdvisory, error) {
	params := map[string]string{
		"ecosystem": strings.ToLower(ecosystem),
		"type":      "reviewed",
		"sort":      "updated",
		"direction": "asc",
		"per_page":  strconv.Itoa(f.perPage),
	}
	if !since.IsZero() {
		params["modified"] = ">=" + since.UTC().Format(time.RFC3339)
	}

	var all []ghsaAdvisory
	next := f.url + "/advisories"
	for page := 0; next != "" && page < f.maxPages; page++ {
		var advisories []ghsaAdvisory
		req := f.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/vnd.github+json").
			SetHeader("X-GitHub-Api-Version", ghsaAPIVersion).
			SetResult(&advisories)
		if f.token != "" {
			req.SetAuthToken(f.token)
		}
		if page == 0 {
			req.SetQueryParams(params)
		}

		resp, err := req.Get(next)
		if err != nil {
			return nil, xerrors.Errorf("advisories request failed: %w", err)
		}
		if resp.IsError() {
			return nil, xerrors.Errorf("advisories request returned status %d", resp.StatusCode())
		}
		all = append(all, advisories...)
		next = nextLink(resp.Header().Get("Link"))
	}
	return all, nil
}

func nextLink(header string) string {
	m := nextLinkRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

func convertAdvisory(adv ghsaAdvisory) []shared.VulnerabilityRecord {
	if adv.WithdrawnAt != nil {
		return nil
	}

	type group struct {
		name, ecosystem string
		ranges          []string
		patched         []string
	}
	var order []string
	groups := make(map[string]*group)
	for _, v := range adv.Vulnerabilities {
		// skip bad vulnerability entries
		if v.Package == nil || strings.TrimSpace(v.Package.Name) == "" {
			continue
		}
		name := strings.TrimSpace(v.Package.Name)
		eco := ecosystemTag(v.Package.Ecosystem)
		key := eco + "|" + name
		g, ok := groups[key]
		if !ok {
			g = &group{name: name, ecosystem: eco}
			groups[key] = g
			order = append(order, key)
		}
		if r := strings.TrimSpace(v.VulnerableVersionRange); r != "" {
			g.ranges = append(g.ranges, r)
		}
		if v.FirstPatchedVersion != nil && strings.TrimSpace(*v.FirstPatchedVersion) != "" {
			g.patched = append(g.patched, strings.TrimSpace(*v.FirstPatchedVersion))
		}
	}

	description := adv.Summary
	if description == "" {
		description = adv.Description
	}
	var score *float64
	if adv.CVSS != nil && adv.CVSS.Score != nil && *adv.CVSS.Score > 0 {
		s := *adv.CVSS.Score
		score = &s
	}
	aliases := advisoryAliases(adv)
	exploit := hasExploitReference(adv.References)

	records := make([]shared.VulnerabilityRecord, 0, len(order))
	for _, key := range order {
		g := groups[key]
		fixed := ""
		if len(g.patched) > 0 {
			sort.Slice(g.patched, func(i, j int) bool { return versionrange.Compare(g.patched[i], g.patched[j]) < 0 })
			fixed = ">=" + g.patched[len(g.patched)-1]
		}
		records = append(records, shared.VulnerabilityRecord{
			ID:               adv.GHSAID,
			PackageName:      g.name,
			Ecosystem:        g.ecosystem,
			Severity:         shared.ParseSeverity(adv.Severity),
			CVSSScore:        score,
			AffectedVersions: strings.Join(g.ranges, " || "),
			FixedVersions:    fixed,
			Description:      description,
			References:       adv.References,
			Aliases:          aliases,
			Source:           SourceGHSA,
			DiscoveredAt:     adv.PublishedAt,
			ZeroDay:          len(g.patched) == 0,
			ExploitAvailable: exploit,
		})
	}
	return records
}

func ecosystemTag(ghsaEcosystem string) string {
	switch strings.ToLower(ghsaEcosystem) {
	case "npm":
		return shared.EcosystemNPM
	case "go":
		return shared.EcosystemGo
	default:
		return ghsaEcosystem
	}
}

func advisoryAliases(adv ghsaAdvisory) []string {
	var aliases []string
	seen := map[string]bool{adv.GHSAID: true}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			aliases = append(aliases, id)
		}
	}
	if adv.CVEID != nil {
		add(*adv.CVEID)
	}
	for _, ident := range adv.Identifiers {
		add(ident.Value)
	}
	return aliases
}

func hasExploitReference(refs []string) bool {
	for _, ref := range refs {
		lower := strings.ToLower(ref)
		for _, marker := range exploitMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}
