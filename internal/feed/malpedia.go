package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
)

// MalpediaGalaxyURL is the public MISP Galaxy export, usable without
// authentication.
const MalpediaGalaxyURL = "https://malpedia.caad.fkie.fraunhofer.de/api/get/misp"

// MalpediaFamily is one malware family in MISP Galaxy form.
type MalpediaFamily struct {
	Value string       `json:"value"`
	UUID  string       `json:"uuid"`
	Meta  MalpediaMeta `json:"meta"`
}

// MalpediaMeta carries the family metadata the parser cares about.
type MalpediaMeta struct {
	Refs     []string `json:"refs"`
	Synonyms []string `json:"synonyms"`
	Type     []string `json:"type"`
}

// MalpediaGalaxy is the payload shape for malware-metadata results.
type MalpediaGalaxy struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Version     int              `json:"version"`
	Families    []MalpediaFamily `json:"values"`
}

// MalpediaFeed scrapes the Malpedia malware family catalog in bulk.
type MalpediaFeed struct {
	Base
	url string
}

// NewMalpediaFeed constructs the Malpedia feed. url overrides the galaxy
// endpoint (tests); empty uses the production URL.
func NewMalpediaFeed(client *fetchclient.Client, clock intel.Clock, logger *zap.Logger, url string) *MalpediaFeed {
	if url == "" {
		url = MalpediaGalaxyURL
	}
	return &MalpediaFeed{
		Base: NewBase("malpedia", intel.KindOpenWeb, intel.ClassMalwareMetadata, false, client, clock, logger),
		url:  url,
	}
}

// Fetch pulls the full galaxy. No incremental mode exists upstream.
func (f *MalpediaFeed) Fetch(ctx context.Context, _ *time.Time) (intel.FetchResult, error) {
	resp, err := f.client.Fetch(ctx, fetchclient.Request{URL: f.url})
	if err != nil {
		return intel.FetchResult{}, fmt.Errorf("fetch malpedia galaxy: %w", err)
	}

	var galaxy MalpediaGalaxy
	if err := f.decodeJSON(resp.Body, &galaxy); err != nil {
		return intel.FetchResult{}, err
	}

	f.logger.Info("fetched malpedia galaxy",
		zap.Int("families", len(galaxy.Families)),
		zap.Int("version", galaxy.Version),
	)
	return intel.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
		Data:      galaxy,
	}, nil
}

// Validate checks the galaxy shape. An empty family list is tolerated (the
// mirror occasionally serves partial exports); a family without a name is
// schema drift.
func (f *MalpediaFeed) Validate(res intel.FetchResult) bool {
	galaxy, ok := res.Data.(MalpediaGalaxy)
	if !ok {
		return false
	}
	if len(galaxy.Families) == 0 {
		f.logger.Warn("malpedia returned no families, accepting empty run")
		return true
	}
	if galaxy.Families[0].Value == "" {
		f.logger.Error("malpedia schema change detected, family name missing")
		return false
	}
	return true
}
