package intel

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/xerrors"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

const kevURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

type kevCatalog struct {
	Title           string `json:"title"`
	CatalogVersion  string `json:"catalogVersion"`
	Count           int    `json:"count"`
	Vulnerabilities []struct {
		CveID string `json:"cveID"`
	} `json:"vulnerabilities"`
}

// KEVEnricher flags records listed in the CISA Known Exploited Vulnerabilities catalog.
type KEVEnricher struct {
	client *resty.Client
	url    string
}

// NewKEVEnricher creates the enricher. An empty url selects the public catalog.
func NewKEVEnricher(client *resty.Client, url string) *KEVEnricher {
	if url == "" {
		url = kevURL
	}
	return &KEVEnricher{client: client, url: url}
}

func (k *KEVEnricher) Name() string { return "kev" }

// Catalog returns the upper-cased CVE identifiers of the catalog.
func (k *KEVEnricher) Catalog(ctx context.Context) (map[string]struct{}, error) {
	var catalog kevCatalog
	resp, err := k.client.R().
		SetContext(ctx).
		SetResult(&catalog).
		ForceContentType("application/json").
		Get(k.url)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch KEV catalog: %w", err)
	}
	if resp.IsError() {
		return nil, xerrors.Errorf("KEV catalog request returned status %d", resp.StatusCode())
	}
	if catalog.Count != len(catalog.Vulnerabilities) {
		return nil, xerrors.Errorf("KEV catalog count mismatch: count %d, vulnerabilities %d", catalog.Count, len(catalog.Vulnerabilities))
	}

	ids := make(map[string]struct{}, len(catalog.Vulnerabilities))
	for _, v := range catalog.Vulnerabilities {
		ids[strings.ToUpper(strings.TrimSpace(v.CveID))] = struct{}{}
	}
	return ids, nil
}

// Enrich marks every record whose identifier or alias is in the catalog as
// known exploited. Such records also count as having exploit code available.
func (k *KEVEnricher) Enrich(ctx context.Context, records []shared.VulnerabilityRecord) error {
	catalog, err := k.Catalog(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		if listed(catalog, records[i]) {
			records[i].KnownExploited = true
			records[i].ExploitAvailable = true
		}
	}
	return nil
}

func listed(catalog map[string]struct{}, r shared.VulnerabilityRecord) bool {
	if _, ok := catalog[strings.ToUpper(r.ID)]; ok {
		return true
	}
	for _, alias := range r.Aliases {
		if _, ok := catalog[strings.ToUpper(alias)]; ok {
			return true
		}
	}
	return false
}
