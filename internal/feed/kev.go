package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
)

// KEVCatalogURL is the authoritative CISA Known Exploited Vulnerabilities
// JSON endpoint.
const KEVCatalogURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// KEVEntry is one catalog vulnerability.
type KEVEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	ShortDescription           string `json:"shortDescription"`
	RequiredAction             string `json:"requiredAction"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// KEVCatalog is the payload shape for vulnerability-class results.
type KEVCatalog struct {
	CatalogVersion  string     `json:"catalogVersion"`
	Count           int        `json:"count"`
	Vulnerabilities []KEVEntry `json:"vulnerabilities"`
}

// KEVFeed pulls the full CISA KEV catalog. The endpoint has no
// modified-since mode, so the feed is full-fetch only and relies on the
// deduplication layer to absorb repeats.
type KEVFeed struct {
	Base
	url string
}

// NewKEVFeed constructs the CISA KEV feed. url overrides the catalog
// endpoint (tests); empty uses the production URL.
func NewKEVFeed(client *fetchclient.Client, clock intel.Clock, logger *zap.Logger, url string) *KEVFeed {
	if url == "" {
		url = KEVCatalogURL
	}
	return &KEVFeed{
		Base: NewBase("cisa_kev", intel.KindOpenWeb, intel.ClassVulnerability, false, client, clock, logger),
		url:  url,
	}
}

// Fetch retrieves the full catalog. lastRun is always nil for this feed.
func (f *KEVFeed) Fetch(ctx context.Context, _ *time.Time) (intel.FetchResult, error) {
	resp, err := f.client.Fetch(ctx, fetchclient.Request{URL: f.url})
	if err != nil {
		return intel.FetchResult{}, fmt.Errorf("fetch kev catalog: %w", err)
	}

	var catalog KEVCatalog
	if err := f.decodeJSON(resp.Body, &catalog); err != nil {
		return intel.FetchResult{}, err
	}

	f.logger.Info("fetched kev catalog",
		zap.String("version", catalog.CatalogVersion),
		zap.Int("entries", len(catalog.Vulnerabilities)),
	)
	return intel.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
		Data:      catalog,
	}, nil
}

// Validate checks the catalog shape: a non-empty vulnerability list whose
// first entry carries the keys the parser depends on. An empty catalog
// means upstream schema drift, not a quiet day.
func (f *KEVFeed) Validate(res intel.FetchResult) bool {
	catalog, ok := res.Data.(KEVCatalog)
	if !ok {
		return false
	}
	if len(catalog.Vulnerabilities) == 0 {
		f.logger.Error("kev catalog empty or invalid")
		return false
	}
	sample := catalog.Vulnerabilities[0]
	if sample.CVEID == "" || sample.VendorProject == "" || sample.Product == "" {
		f.logger.Error("kev schema mismatch in sample entry")
		return false
	}
	return true
}
