package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ctiharvest/internal/intel"
)

func TestRiskCVEFromKEVWithRansomwareUse(t *testing.T) {
	t.Parallel()

	ind := intel.Indicator{
		Type:   intel.TypeCVE,
		Value:  "CVE-2024-1234",
		Source: "cisa_kev",
		Metadata: map[string]any{
			"known_ransomware_campaign_use": true,
			"vendor_project":                "Acme Government Systems",
		},
	}
	score, level, b := Risk(ind)

	assert.Equal(t, 30.0, b.SourceCredibility)
	assert.Equal(t, 20.0, b.ThreatActorActivity)
	assert.GreaterOrEqual(t, b.Exploitability, 30.0)
	assert.GreaterOrEqual(t, score, 70.0)
	assert.Equal(t, intel.RiskCritical, level)
}

func TestRiskUnknownSourceBareIndicator(t *testing.T) {
	t.Parallel()

	score, level, b := Risk(intel.Indicator{
		Type:   intel.TypeIP,
		Value:  "10.1.2.3",
		Source: "random_blog",
	})

	assert.Equal(t, 5.0, b.SourceCredibility)
	assert.Zero(t, b.Exploitability)
	assert.Equal(t, 5.0, score)
	assert.Equal(t, intel.RiskLow, level)
}

func TestRiskExploitabilityTakesMaxNotSum(t *testing.T) {
	t.Parallel()

	// Both ransomware and botnet keywords present; exploitability is the
	// larger of the two factors, not their sum.
	_, _, b := Risk(intel.Indicator{
		Type:   intel.TypeDomain,
		Value:  "c2.example.com",
		Source: "alienvault_otx",
		Metadata: map[string]any{
			"tags": []string{"ransomware", "botnet"},
		},
	})
	assert.Equal(t, 20.0, b.Exploitability)
}

func TestRiskMonotonicInFactors(t *testing.T) {
	t.Parallel()

	bare := intel.Indicator{Type: intel.TypeDomain, Value: "x.example.com", Source: "alienvault_otx"}
	enriched := bare
	enriched.Metadata = map[string]any{
		"tags":         []string{"ransomware"},
		"threat_actor": "FIN7",
	}

	bareScore, _, _ := Risk(bare)
	enrichedScore, _, _ := Risk(enriched)
	assert.Greater(t, enrichedScore, bareScore)
}

func TestRiskCappedAtHundred(t *testing.T) {
	t.Parallel()

	score, level, _ := Risk(intel.Indicator{
		Type:   intel.TypeCVE,
		Value:  "CVE-2024-9999",
		Source: "cisa_kev",
		Metadata: map[string]any{
			"known_ransomware_campaign_use": true,
			"short_description":             "active ransomware campaign against government finance energy",
		},
	})
	assert.LessOrEqual(t, score, 100.0)
	assert.Equal(t, intel.RiskCritical, level)
}

func TestScoreRiskBatchAnnotatesInPlace(t *testing.T) {
	t.Parallel()

	batch := []intel.Indicator{
		{Type: intel.TypeCVE, Value: "CVE-2024-1", Source: "cisa_kev"},
		{Type: intel.TypeIP, Value: "10.0.0.1", Source: "nobody"},
	}
	ScoreRiskBatch(batch)

	assert.NotZero(t, batch[0].RiskScore)
	assert.NotEmpty(t, batch[0].RiskLevel)
	assert.Equal(t, intel.RiskLow, batch[1].RiskLevel)
	assert.Greater(t, batch[0].RiskScore, batch[1].RiskScore)
}

func TestLevelThresholds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, intel.RiskLow, levelFor(29.9))
	assert.Equal(t, intel.RiskMedium, levelFor(30))
	assert.Equal(t, intel.RiskHigh, levelFor(50))
	assert.Equal(t, intel.RiskCritical, levelFor(70))
}
