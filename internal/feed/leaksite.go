package feed

import (
	"bytes"
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
	"ctiharvest/internal/normalize"
)

const (
	// minVictimTitleLen filters out navigation chrome and button labels
	// that survive the selector pass.
	minVictimTitleLen = 20

	// maxVictimsPerPage bounds how much of a hostile page we trust.
	maxVictimsPerPage = 500
)

// victimSelectors are tried in priority order; the first selector with any
// matches wins. The trailing fallback covers generic blog-style leak sites.
var victimSelectors = []string{
	"article.victim",
	".victim-card",
	".post.leak",
	"tr.leak-row",
	".card.victim",
}

const victimFallbackSelector = "article, .post, .card"

// LeakSiteFeed scrapes ransomware leak sites over the anonymizing proxy.
// Every configured source is an onion address, so the fetch client routes
// all of this feed's traffic through SOCKS with proxy-side DNS.
type LeakSiteFeed struct {
	Base
	// sources maps a group identifier to its leak-site URL.
	sources map[string]string
	// knownHashes carries the previous run's per-source content hashes so
	// each detection can report whether the page materially changed.
	knownHashes map[string]string
}

// NewLeakSiteFeed constructs the dark-web monitor over the given sources.
func NewLeakSiteFeed(
	client *fetchclient.Client,
	clock intel.Clock,
	logger *zap.Logger,
	sources map[string]string,
) *LeakSiteFeed {
	return &LeakSiteFeed{
		Base:        NewBase("darkweb_monitor", intel.KindAnonymized, intel.ClassDetection, false, client, clock, logger),
		sources:     sources,
		knownHashes: make(map[string]string),
	}
}

// SetKnownHashes seeds the change-detection baseline from persisted run
// state. Called by the manager before Fetch.
func (f *LeakSiteFeed) SetKnownHashes(hashes map[string]string) {
	f.knownHashes = make(map[string]string, len(hashes))
	for k, v := range hashes {
		f.knownHashes[k] = v
	}
}

// Fetch crawls every configured source. A single unreachable onion service
// is routine (hidden services flap constantly) and must not sink the whole
// run; failed sources are logged and omitted from the report.
func (f *LeakSiteFeed) Fetch(ctx context.Context, _ *time.Time) (intel.FetchResult, error) {
	now := f.clock.Now()
	report := intel.DetectionReport{
		ObservedAt:     now,
		SourcesChecked: len(f.sources),
		Detections:     make(map[string]intel.SourceDetections, len(f.sources)),
	}

	for sourceID, url := range f.sources {
		resp, err := f.client.Fetch(ctx, fetchclient.Request{URL: url})
		if err != nil {
			if ctx.Err() != nil {
				return intel.FetchResult{}, ctx.Err()
			}
			f.logger.Error("leak site unreachable",
				zap.String("source", sourceID),
				zap.Error(err),
			)
			continue
		}

		victims := f.parseVictims(sourceID, resp.Body, now)
		titles := make([]string, len(victims))
		for i, v := range victims {
			titles[i] = v.Title
		}
		contentHash := normalize.VictimSetHash(titles)

		report.Detections[sourceID] = intel.SourceDetections{
			URL:         url,
			ContentHash: contentHash,
			Changed:     contentHash != f.knownHashes[sourceID],
			Victims:     victims,
		}
		f.logger.Info("scraped leak site",
			zap.String("source", sourceID),
			zap.Int("victims", len(victims)),
			zap.Bool("changed", contentHash != f.knownHashes[sourceID]),
		)
	}

	return intel.FetchResult{
		Source:    f.Name(),
		FetchedAt: now,
		Data:      report,
	}, nil
}

// Validate requires at least one reachable source; an all-sources-down run
// is unreliable and should not update state.
func (f *LeakSiteFeed) Validate(res intel.FetchResult) bool {
	report, ok := res.Data.(intel.DetectionReport)
	if !ok {
		return false
	}
	return len(report.Detections) > 0
}

// parseVictims extracts victim entries from a leak page using the
// prioritized selector list.
func (f *LeakSiteFeed) parseVictims(sourceID string, html []byte, now time.Time) []intel.Victim {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		f.logger.Warn("unparseable leak page", zap.String("source", sourceID), zap.Error(err))
		return nil
	}

	var items *goquery.Selection
	for _, selector := range victimSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			items = sel
			break
		}
	}
	if items == nil {
		items = doc.Find(victimFallbackSelector)
	}

	var victims []intel.Victim
	items.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(victims) >= maxVictimsPerPage {
			return false
		}
		title := normalize.VictimTitle(s.Text())
		if len(title) < minVictimTitleLen {
			return true
		}
		victims = append(victims, intel.Victim{
			Group:        sourceID,
			Title:        title,
			DiscoveredAt: now,
			ContentHash:  normalize.VictimFingerprint(sourceID, title),
		})
		return true
	})
	return victims
}
