package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctiharvest/internal/feed"
	"ctiharvest/internal/intel"
)

func TestParseVulnerabilitiesSkipsBlankCVE(t *testing.T) {
	t.Parallel()

	res := intel.FetchResult{
		Source:    "cisa_kev",
		FetchedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Data: feed.KEVCatalog{Vulnerabilities: []feed.KEVEntry{
			{CVEID: "CVE-2024-1234", VendorProject: "Acme", DateAdded: "2024-02-01", KnownRansomwareCampaignUse: "Known"},
			{CVEID: ""},
			{CVEID: "CVE-2024-5678", VendorProject: "Globex", DateAdded: "not-a-date"},
		}},
	}

	candidates, skipped, err := parseVulnerabilities(res)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, candidates, 2)

	assert.Equal(t, intel.TypeCVE, candidates[0].Type)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), candidates[0].FirstSeen)
	assert.Equal(t, true, candidates[0].Metadata["known_ransomware_campaign_use"])

	// Unparseable dateAdded falls back to the fetch time.
	assert.Equal(t, res.FetchedAt, candidates[1].FirstSeen)
	assert.Equal(t, false, candidates[1].Metadata["known_ransomware_campaign_use"])
}

func TestParseMalwareMetadataEmitsOneCandidatePerRef(t *testing.T) {
	t.Parallel()

	res := intel.FetchResult{
		Source:    "malpedia",
		FetchedAt: time.Now(),
		Data: feed.MalpediaGalaxy{Families: []feed.MalpediaFamily{
			{
				Value: "win.emotet",
				UUID:  "uuid-1",
				Meta: feed.MalpediaMeta{
					Refs:     []string{"https://a.example/1", "https://a.example/2"},
					Synonyms: []string{"Geodo"},
				},
			},
			{Value: ""},
		}},
	}

	candidates, skipped, err := parseMalwareMetadata(res)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, candidates, 2)
	assert.Equal(t, intel.TypeURL, candidates[0].Type)
	assert.Equal(t, "win.emotet", candidates[0].Metadata["malware_family"])
}

func TestParseGenericIndicatorsSkipsUnknownTypes(t *testing.T) {
	t.Parallel()

	res := intel.FetchResult{
		Source:    "alienvault_otx",
		FetchedAt: time.Now(),
		Data: feed.OTXPayload{Pulses: []feed.OTXPulse{
			{
				ID:        "pulse-1",
				Name:      "Campaign",
				Adversary: "FIN7",
				Indicators: []feed.OTXIndicator{
					{Type: "IPv4", Indicator: "203.0.113.7"},
					{Type: "YARA", Indicator: "rule something"},
					{Type: "domain", Indicator: ""},
				},
			},
		}},
	}

	candidates, skipped, err := parseGenericIndicators(res)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, candidates, 1)
	assert.Equal(t, intel.TypeIP, candidates[0].Type)
	assert.Equal(t, "FIN7", candidates[0].Metadata["threat_actor"])
}

func TestParseRejectsWrongShapes(t *testing.T) {
	t.Parallel()

	res := intel.FetchResult{Source: "x", Data: 42}
	for class, parse := range parsers {
		_, _, err := parse(res)
		assert.Error(t, err, "class %s", class)
	}
}
