package pipeline

import (
	"fmt"
	"time"

	"ctiharvest/internal/feed"
	"ctiharvest/internal/intel"
)

// parseFunc converts one feed payload into raw indicator candidates.
// Individual malformed records are skipped and counted, never fatal.
type parseFunc func(res intel.FetchResult) ([]intel.Candidate, int, error)

// parsers dispatches on the feed's content class, resolved at registration.
// Feed names never appear here.
var parsers = map[intel.ContentClass]parseFunc{
	intel.ClassVulnerability:   parseVulnerabilities,
	intel.ClassMalwareMetadata: parseMalwareMetadata,
	intel.ClassGenericIOC:      parseGenericIndicators,
}

// otxTypeMap translates upstream indicator type labels into our taxonomy.
// Unknown labels are skipped, not errors; OTX adds types faster than anyone
// can track.
var otxTypeMap = map[string]intel.IndicatorType{
	"IPv4":            intel.TypeIP,
	"IPv6":            intel.TypeIP,
	"domain":          intel.TypeDomain,
	"hostname":        intel.TypeDomain,
	"URL":             intel.TypeURL,
	"URI":             intel.TypeURL,
	"FileHash-MD5":    intel.TypeHash,
	"FileHash-SHA1":   intel.TypeHash,
	"FileHash-SHA256": intel.TypeHash,
	"CVE":             intel.TypeCVE,
	"email":           intel.TypeEmail,
}

func parseVulnerabilities(res intel.FetchResult) ([]intel.Candidate, int, error) {
	catalog, ok := res.Data.(feed.KEVCatalog)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected payload shape %T for vulnerability class", res.Data)
	}

	candidates := make([]intel.Candidate, 0, len(catalog.Vulnerabilities))
	skipped := 0
	for _, entry := range catalog.Vulnerabilities {
		if entry.CVEID == "" {
			skipped++
			continue
		}
		firstSeen := res.FetchedAt
		if t, err := time.Parse("2006-01-02", entry.DateAdded); err == nil {
			firstSeen = t
		}
		candidates = append(candidates, intel.Candidate{
			Type:      intel.TypeCVE,
			Value:     entry.CVEID,
			Source:    res.Source,
			FirstSeen: firstSeen,
			Metadata: map[string]any{
				"vendor_project":                entry.VendorProject,
				"product":                       entry.Product,
				"vulnerability_name":            entry.VulnerabilityName,
				"short_description":             entry.ShortDescription,
				"required_action":               entry.RequiredAction,
				"due_date":                      entry.DueDate,
				"known_ransomware_campaign_use": entry.KnownRansomwareCampaignUse == "Known",
			},
		})
	}
	return candidates, skipped, nil
}

func parseMalwareMetadata(res intel.FetchResult) ([]intel.Candidate, int, error) {
	galaxy, ok := res.Data.(feed.MalpediaGalaxy)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected payload shape %T for malware metadata class", res.Data)
	}

	var candidates []intel.Candidate
	skipped := 0
	for _, family := range galaxy.Families {
		if family.Value == "" {
			skipped++
			continue
		}
		meta := map[string]any{
			"malware_family": family.Value,
			"family_uuid":    family.UUID,
		}
		if len(family.Meta.Synonyms) > 0 {
			meta["synonyms"] = family.Meta.Synonyms
		}
		if len(family.Meta.Type) > 0 {
			meta["malware_type"] = family.Meta.Type
		}
		for _, ref := range family.Meta.Refs {
			if ref == "" {
				skipped++
				continue
			}
			candidates = append(candidates, intel.Candidate{
				Type:      intel.TypeURL,
				Value:     ref,
				Source:    res.Source,
				FirstSeen: res.FetchedAt,
				Metadata:  meta,
			})
		}
	}
	return candidates, skipped, nil
}

func parseGenericIndicators(res intel.FetchResult) ([]intel.Candidate, int, error) {
	payload, ok := res.Data.(feed.OTXPayload)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected payload shape %T for generic indicator class", res.Data)
	}

	var candidates []intel.Candidate
	skipped := 0
	for _, pulse := range payload.Pulses {
		meta := map[string]any{
			"pulse_id":   pulse.ID,
			"pulse_name": pulse.Name,
			"author":     pulse.Author,
		}
		if len(pulse.Tags) > 0 {
			meta["tags"] = pulse.Tags
		}
		if pulse.Adversary != "" {
			meta["threat_actor"] = pulse.Adversary
		}
		for _, ioc := range pulse.Indicators {
			t, known := otxTypeMap[ioc.Type]
			if !known || ioc.Indicator == "" {
				skipped++
				continue
			}
			firstSeen := res.FetchedAt
			if ts, err := time.Parse("2006-01-02T15:04:05", ioc.Created); err == nil {
				firstSeen = ts
			}
			candidates = append(candidates, intel.Candidate{
				Type:      t,
				Value:     ioc.Indicator,
				Source:    res.Source,
				FirstSeen: firstSeen,
				Metadata:  meta,
			})
		}
	}
	return candidates, skipped, nil
}
