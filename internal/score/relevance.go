package score

import (
	"math"
	"strings"
	"time"

	"ctiharvest/internal/intel"
)

// Regional keywords signal targeting of the deployment's home region.
var regionKeywords = []string{
	"uae", "united arab emirates", "dubai", "abu dhabi", "sharjah",
	"emirates", "dirham", "aed",
}

var sectorKeywords = map[string][]string{
	"government": {"government", "ministry", "federal", "municipality", "authority"},
	"finance":    {"bank", "financial", "investment", "insurance", "credit", "payment"},
	"energy":     {"oil", "gas", "petroleum", "energy", "power", "electricity"},
	"healthcare": {"hospital", "medical", "health", "clinic", "pharmacy"},
	"aviation":   {"airline", "airport", "aviation", "aircraft"},
	"tourism":    {"hotel", "tourism", "travel", "resort", "hospitality"},
	"retail":     {"retail", "mall", "shopping", "store", "supermarket"},
	"technology": {"tech", "software", "telecom", "communications"},
}

var credibleSources = []string{"cisa_kev", "ransomware_live"}

const (
	regionKeywordWeight = 0.1
	regionCap           = 0.4
	sectorKeywordWeight = 0.05
	sectorCap           = 0.3
	credibleSourceBonus = 0.2
	recencyBonus        = 0.1
	recencyWindow       = 30 * 24 * time.Hour
	relevanceCap        = 1.0
)

// Relevance computes the contextual applicability score in [0.0, 1.0]:
// capped regional and sector keyword sub-scores plus source-credibility and
// recency bonuses.
func Relevance(ind intel.Indicator, now time.Time) float64 {
	text := metadataText(ind)
	var score float64

	var regionScore float64
	for _, kw := range regionKeywords {
		if strings.Contains(text, kw) {
			regionScore += regionKeywordWeight
		}
	}
	score += math.Min(regionScore, regionCap)

	var sectorScore float64
	for _, keywords := range sectorKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				sectorScore += sectorKeywordWeight
			}
		}
	}
	score += math.Min(sectorScore, sectorCap)

	source := strings.ToLower(ind.Source)
	for _, cs := range credibleSources {
		if strings.Contains(source, cs) {
			score += credibleSourceBonus
			break
		}
	}

	if !ind.FirstSeen.IsZero() && now.Sub(ind.FirstSeen) <= recencyWindow {
		score += recencyBonus
	}

	if score > relevanceCap {
		score = relevanceCap
	}
	return math.Round(score*1000) / 1000
}

// ScoreRelevanceBatch annotates each indicator in place.
func ScoreRelevanceBatch(indicators []intel.Indicator, now time.Time) {
	for i := range indicators {
		indicators[i].RelevanceScore = Relevance(indicators[i], now)
	}
}
