// Package normalize canonicalizes raw indicator candidates into typed,
// fingerprinted records. All per-type rules return ok=false on invalid input
// rather than erroring: a value that cannot be canonicalized is bad data,
// not a pipeline fault.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/intel"
)

var (
	domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	cvePattern    = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	hexPattern    = regexp.MustCompile(`^[a-f0-9]+$`)
)

// Normalizer canonicalizes candidates and computes their fingerprints.
type Normalizer struct {
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Fingerprint is the content address of an indicator: SHA-256 over
// "{type}:{canonical value}". Deterministic, stable across runs, and
// type-aware: the same value under different types hashes differently.
func Fingerprint(t intel.IndicatorType, canonicalValue string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", t, canonicalValue)))
	return hex.EncodeToString(sum[:])
}

// Normalize canonicalizes one candidate. ok is false when the value fails
// its type rule; such candidates are dropped silently by the caller.
func (n *Normalizer) Normalize(c intel.Candidate, now time.Time) (intel.Indicator, bool) {
	value := strings.TrimSpace(c.Value)
	if value == "" {
		return intel.Indicator{}, false
	}

	canonical, ok := canonicalize(c.Type, value)
	if !ok {
		n.logger.Debug("dropping invalid indicator",
			zap.String("type", string(c.Type)),
			zap.String("value", value),
		)
		return intel.Indicator{}, false
	}

	firstSeen := c.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	return intel.Indicator{
		Type:        c.Type,
		Value:       canonical,
		Source:      c.Source,
		FirstSeen:   firstSeen,
		LastSeen:    now,
		Metadata:    c.Metadata,
		Fingerprint: Fingerprint(c.Type, canonical),
	}, true
}

// NormalizeBatch canonicalizes a batch, preserving order among survivors.
func (n *Normalizer) NormalizeBatch(candidates []intel.Candidate, now time.Time) []intel.Indicator {
	out := make([]intel.Indicator, 0, len(candidates))
	for _, c := range candidates {
		if ind, ok := n.Normalize(c, now); ok {
			out = append(out, ind)
		}
	}
	n.logger.Debug("normalized batch",
		zap.Int("in", len(candidates)),
		zap.Int("out", len(out)),
	)
	return out
}

func canonicalize(t intel.IndicatorType, value string) (string, bool) {
	switch t {
	case intel.TypeIP:
		return canonicalIP(value)
	case intel.TypeDomain:
		return canonicalDomain(value)
	case intel.TypeURL:
		return canonicalURL(value)
	case intel.TypeHash:
		return canonicalHash(value)
	case intel.TypeCVE:
		return canonicalCVE(value)
	case intel.TypeEmail:
		return canonicalEmail(value)
	default:
		return "", false
	}
}

func canonicalIP(value string) (string, bool) {
	// Strip an embedded port unless this is a bare IPv6 literal.
	if strings.Count(value, ":") == 1 {
		value = value[:strings.Index(value, ":")]
	} else if strings.HasPrefix(value, "[") {
		if end := strings.Index(value, "]"); end > 0 {
			value = value[1:end]
		}
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

func canonicalDomain(value string) (string, bool) {
	d := strings.TrimPrefix(strings.TrimPrefix(value, "http://"), "https://")
	if i := strings.Index(d, "/"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.ToLower(strings.TrimSuffix(d, "."))
	if !domainPattern.MatchString(d) {
		return "", false
	}
	return d, true
}

func canonicalURL(value string) (string, bool) {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "https://" + value
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return "", false
	}
	canonical := u.Scheme + "://" + strings.ToLower(u.Host)
	if u.Path != "" {
		canonical += u.Path
	}
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, true
}

// canonicalHash classifies by exact hex length: 32 MD5, 40 SHA-1, 64 SHA-256.
func canonicalHash(value string) (string, bool) {
	h := strings.ToLower(strings.TrimSpace(value))
	if !hexPattern.MatchString(h) {
		return "", false
	}
	switch len(h) {
	case 32, 40, 64:
		return h, true
	default:
		return "", false
	}
}

// HashAlgorithm names the hash family for a canonical hash value.
func HashAlgorithm(canonical string) string {
	switch len(canonical) {
	case 32:
		return "md5"
	case 40:
		return "sha1"
	case 64:
		return "sha256"
	default:
		return "unknown"
	}
}

func canonicalCVE(value string) (string, bool) {
	cve := strings.ToUpper(strings.TrimSpace(value))
	if !cvePattern.MatchString(cve) {
		return "", false
	}
	return cve, true
}

func canonicalEmail(value string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(value))
	if !emailPattern.MatchString(e) {
		return "", false
	}
	return e, true
}
