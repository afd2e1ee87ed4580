// Package score implements pure, stateless risk and relevance scoring over
// normalized indicators. Both scorers are idempotent and order-independent
// across a batch.
package score

import (
	"encoding/json"
	"strings"

	"ctiharvest/internal/intel"
)

// Source credibility points, matched by substring against the source name.
var sourceCredibility = []struct {
	name   string
	points float64
}{
	{"cisa_kev", 30},
	{"ransomware_live", 25},
	{"alienvault_otx", 18},
	{"malpedia", 15},
}

const sourceCredibilityDefault = 5

// Exploitability points. Keyword factors take the maximum match, not a sum:
// an indicator tied to both a botnet and a ransomware campaign is no more
// exploitable than its worst association.
const (
	exploitCVE            = 30
	exploitActiveCampaign = 25
	exploitRansomware     = 20
	exploitBotnet         = 15
	exploitMalware        = 10
)

var (
	highRiskSectors   = []string{"government", "finance", "healthcare", "energy"}
	mediumRiskSectors = []string{"aviation", "technology", "telecom"}
)

const (
	actorPresencePoints       = 15
	actorRansomwareUsePoints  = 20
	sectorHighPoints          = 20
	sectorMediumPoints        = 10
	riskCap                   = 100.0
	criticalThreshold         = 70.0
	highThreshold             = 50.0
	mediumThreshold           = 30.0
)

// RiskBreakdown itemizes the factors behind a risk score.
type RiskBreakdown struct {
	SourceCredibility   float64 `json:"source_credibility"`
	Exploitability      float64 `json:"exploitability"`
	SectorRelevance     float64 `json:"sector_relevance"`
	ThreatActorActivity float64 `json:"threat_actor_activity"`
}

// Risk computes the weighted risk score in [0,100] and its level for one
// indicator.
func Risk(ind intel.Indicator) (float64, intel.RiskLevel, RiskBreakdown) {
	var b RiskBreakdown
	source := strings.ToLower(ind.Source)
	text := metadataText(ind)

	b.SourceCredibility = sourceCredibilityDefault
	for _, sc := range sourceCredibility {
		if strings.Contains(source, sc.name) {
			b.SourceCredibility = sc.points
			break
		}
	}

	if ind.Type == intel.TypeCVE {
		b.Exploitability = exploitCVE
	}
	if strings.Contains(text, "ransomware") || strings.Contains(text, "ransom") {
		b.Exploitability = maxF(b.Exploitability, exploitRansomware)
	}
	if strings.Contains(text, "campaign") || strings.Contains(text, "active") {
		b.Exploitability = maxF(b.Exploitability, exploitActiveCampaign)
	}
	if strings.Contains(text, "botnet") {
		b.Exploitability = maxF(b.Exploitability, exploitBotnet)
	}
	if strings.Contains(text, "malware") {
		b.Exploitability = maxF(b.Exploitability, exploitMalware)
	}

	for _, sector := range highRiskSectors {
		if strings.Contains(text, sector) {
			b.SectorRelevance = sectorHighPoints
			break
		}
	}
	if b.SectorRelevance == 0 {
		for _, sector := range mediumRiskSectors {
			if strings.Contains(text, sector) {
				b.SectorRelevance = sectorMediumPoints
				break
			}
		}
	}

	if hasMetaKey(ind, "group") || hasMetaKey(ind, "threat_actor") {
		b.ThreatActorActivity = actorPresencePoints
	}
	if truthyMeta(ind, "known_ransomware_campaign_use") {
		b.ThreatActorActivity = actorRansomwareUsePoints
	}

	score := b.SourceCredibility + b.Exploitability + b.SectorRelevance + b.ThreatActorActivity
	if score > riskCap {
		score = riskCap
	}

	return score, levelFor(score), b
}

// ScoreRiskBatch annotates each indicator in place with its risk assessment.
func ScoreRiskBatch(indicators []intel.Indicator) {
	for i := range indicators {
		score, level, _ := Risk(indicators[i])
		indicators[i].RiskScore = score
		indicators[i].RiskLevel = level
	}
}

func levelFor(score float64) intel.RiskLevel {
	switch {
	case score >= criticalThreshold:
		return intel.RiskCritical
	case score >= highThreshold:
		return intel.RiskHigh
	case score >= mediumThreshold:
		return intel.RiskMedium
	default:
		return intel.RiskLow
	}
}

// metadataText flattens value and metadata into one lower-cased haystack for
// keyword scans.
func metadataText(ind intel.Indicator) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(ind.Value))
	sb.WriteByte(' ')
	if len(ind.Metadata) > 0 {
		if raw, err := json.Marshal(ind.Metadata); err == nil {
			sb.Write(raw)
		}
	}
	return strings.ToLower(sb.String())
}

func hasMetaKey(ind intel.Indicator, key string) bool {
	v, ok := ind.Metadata[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

func truthyMeta(ind intel.Indicator, key string) bool {
	v, ok := ind.Metadata[key]
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
