package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const (
	// victimTitleMax bounds normalized victim titles; leak pages pad entries
	// with boilerplate that carries no identity signal past this point.
	victimTitleMax = 200

	victimSignatureLen = 16
)

var (
	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	shortDatePattern = regexp.MustCompile(`\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\s+\d{1,2}\b`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// VictimTitle minimizes a scraped leak-site entry before hashing: dates
// stripped, whitespace collapsed, lower-cased, truncated. Cosmetic site
// edits must not register as new detections, and stored titles must not
// retain more identifying text than needed.
func VictimTitle(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = isoDatePattern.ReplaceAllString(t, "")
	t = shortDatePattern.ReplaceAllString(t, "")
	t = strings.TrimSpace(whitespaceRun.ReplaceAllString(t, " "))
	if len(t) > victimTitleMax {
		t = t[:victimTitleMax]
	}
	return t
}

// VictimFingerprint is the dedup key for a single detection.
func VictimFingerprint(group, normalizedTitle string) string {
	sum := sha256.Sum256([]byte("victim:" + group + ":" + normalizedTitle))
	return hex.EncodeToString(sum[:])
}

// VictimSetHash derives a content hash for a whole scraped page from the
// sorted short signatures of its victim titles. Reordering, CSS changes and
// per-entry noise leave the hash unchanged; a genuinely new victim does not.
func VictimSetHash(titles []string) string {
	signatures := make([]string, 0, len(titles))
	for _, title := range titles {
		sum := sha256.Sum256([]byte(title))
		signatures = append(signatures, hex.EncodeToString(sum[:])[:victimSignatureLen])
	}
	sort.Strings(signatures)
	payload, err := json.Marshal(signatures)
	if err != nil {
		payload = []byte(strings.Join(signatures, ","))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
