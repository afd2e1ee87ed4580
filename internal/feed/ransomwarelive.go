package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
	"ctiharvest/internal/normalize"
)

// RansomwareLiveBaseURL is the ransomware.live v2 API root.
const RansomwareLiveBaseURL = "https://api.ransomware.live/v2"

// RansomwareLiveVictim is one published victim record.
type RansomwareLiveVictim struct {
	Victim     string `json:"victim"`
	Group      string `json:"group"`
	Discovered string `json:"discovered"`
	Country    string `json:"country"`
	Activity   string `json:"activity"`
}

// RansomwareLiveFeed pulls recent victim publications from the
// ransomware.live clear-web API and reshapes them into the same detection
// report the dark-web monitor produces, so both flow through the victim
// branch identically.
type RansomwareLiveFeed struct {
	Base
	baseURL string
}

// NewRansomwareLiveFeed constructs the ransomware.live feed. baseURL
// overrides the API root (tests); empty uses production.
func NewRansomwareLiveFeed(client *fetchclient.Client, clock intel.Clock, logger *zap.Logger, baseURL string) *RansomwareLiveFeed {
	if baseURL == "" {
		baseURL = RansomwareLiveBaseURL
	}
	return &RansomwareLiveFeed{
		Base:    NewBase("ransomware_live", intel.KindOpenWeb, intel.ClassDetection, false, client, clock, logger),
		baseURL: baseURL,
	}
}

// Fetch retrieves the recent-victims list; recentvictims is the stable
// endpoint for recurring polls, unlike the full historical dump.
func (f *RansomwareLiveFeed) Fetch(ctx context.Context, _ *time.Time) (intel.FetchResult, error) {
	resp, err := f.client.Fetch(ctx, fetchclient.Request{URL: f.baseURL + "/recentvictims"})
	if err != nil {
		return intel.FetchResult{}, fmt.Errorf("fetch ransomware.live victims: %w", err)
	}

	var victims []RansomwareLiveVictim
	if err := f.decodeJSON(resp.Body, &victims); err != nil {
		return intel.FetchResult{}, err
	}

	now := f.clock.Now()
	perGroup := make(map[string][]intel.Victim)
	for _, v := range victims {
		if v.Group == "" || v.Victim == "" {
			continue
		}
		title := normalize.VictimTitle(v.Victim + " " + v.Activity + " " + v.Country)
		discovered := now
		if t, err := time.Parse("2006-01-02 15:04:05.000000", v.Discovered); err == nil {
			discovered = t
		}
		perGroup[v.Group] = append(perGroup[v.Group], intel.Victim{
			Group:        v.Group,
			Title:        title,
			DiscoveredAt: discovered,
			ContentHash:  normalize.VictimFingerprint(v.Group, title),
		})
	}

	report := intel.DetectionReport{
		ObservedAt:     now,
		SourcesChecked: len(perGroup),
		Detections:     make(map[string]intel.SourceDetections, len(perGroup)),
	}
	for group, vs := range perGroup {
		titles := make([]string, len(vs))
		for i, v := range vs {
			titles[i] = v.Title
		}
		report.Detections[group] = intel.SourceDetections{
			ContentHash: normalize.VictimSetHash(titles),
			Victims:     vs,
		}
	}

	f.logger.Info("fetched ransomware.live victims",
		zap.Int("victims", len(victims)),
		zap.Int("groups", len(perGroup)),
	)
	return intel.FetchResult{
		Source:    f.Name(),
		FetchedAt: now,
		Data:      report,
	}, nil
}

// Validate requires at least one detection: the recent-victims endpoint has
// never legitimately been empty, so an empty report means upstream drift.
func (f *RansomwareLiveFeed) Validate(res intel.FetchResult) bool {
	report, ok := res.Data.(intel.DetectionReport)
	if !ok {
		return false
	}
	if len(report.Detections) == 0 {
		f.logger.Error("ransomware.live returned no detections")
		return false
	}
	return true
}
