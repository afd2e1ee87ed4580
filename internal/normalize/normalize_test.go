package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctiharvest/internal/intel"
)

func TestNormalizeCanonicalizesByType(t *testing.T) {
	t.Parallel()

	n := New(nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		typ   intel.IndicatorType
		value string
		want  string
	}{
		{"ip with port", intel.TypeIP, "192.168.1.5:8080", "192.168.1.5"},
		{"ipv6 bracketed", intel.TypeIP, "[2001:db8::1]:443", "2001:db8::1"},
		{"domain with scheme and path", intel.TypeDomain, "https://Evil.Example.COM/path", "evil.example.com"},
		{"domain trailing dot", intel.TypeDomain, "bad.example.org.", "bad.example.org"},
		{"url without scheme", intel.TypeURL, "evil.example.com/malware.exe", "https://evil.example.com/malware.exe"},
		{"url host lowercased", intel.TypeURL, "http://EVIL.example.com/A/B?x=1", "http://evil.example.com/A/B?x=1"},
		{"hash uppercased md5", intel.TypeHash, "D41D8CD98F00B204E9800998ECF8427E", "d41d8cd98f00b204e9800998ecf8427e"},
		{"cve lowercase", intel.TypeCVE, "cve-2024-1234", "CVE-2024-1234"},
		{"email mixed case", intel.TypeEmail, " Phish@Example.COM ", "phish@example.com"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ind, ok := n.Normalize(intel.Candidate{Type: tt.typ, Value: tt.value, Source: "test"}, now)
			require.True(t, ok)
			assert.Equal(t, tt.want, ind.Value)
			assert.Equal(t, Fingerprint(tt.typ, tt.want), ind.Fingerprint)
		})
	}
}

func TestNormalizeRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	n := New(nil)
	now := time.Now().UTC()

	tests := []struct {
		name  string
		typ   intel.IndicatorType
		value string
	}{
		{"empty value", intel.TypeIP, "   "},
		{"not an ip", intel.TypeIP, "not-an-ip"},
		{"single label domain", intel.TypeDomain, "localhost"},
		{"odd hash length", intel.TypeHash, "abcdef012345"},
		{"hash with non-hex", intel.TypeHash, strings.Repeat("a", 31) + "g"},
		{"malformed cve", intel.TypeCVE, "CVE-24-1"},
		{"unknown type", intel.IndicatorType("asn"), "AS12345"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok := n.Normalize(intel.Candidate{Type: tt.typ, Value: tt.value}, now)
			assert.False(t, ok)
		})
	}
}

func TestFingerprintIsTypeAware(t *testing.T) {
	t.Parallel()

	// The same text under different types must hash differently.
	asDomain := Fingerprint(intel.TypeDomain, "example.com")
	asURL := Fingerprint(intel.TypeURL, "example.com")
	assert.NotEqual(t, asDomain, asURL)

	// Deterministic across calls.
	assert.Equal(t, asDomain, Fingerprint(intel.TypeDomain, "example.com"))
	assert.Len(t, asDomain, 64)
}

func TestNormalizeFirstSeenDefaultsToNow(t *testing.T) {
	t.Parallel()

	n := New(nil)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	ind, ok := n.Normalize(intel.Candidate{Type: intel.TypeIP, Value: "10.0.0.1"}, now)
	require.True(t, ok)
	assert.Equal(t, now, ind.FirstSeen)
	assert.Equal(t, now, ind.LastSeen)

	seen := now.Add(-48 * time.Hour)
	ind, ok = n.Normalize(intel.Candidate{Type: intel.TypeIP, Value: "10.0.0.2", FirstSeen: seen}, now)
	require.True(t, ok)
	assert.Equal(t, seen, ind.FirstSeen)
}

func TestNormalizeBatchDropsInvalid(t *testing.T) {
	t.Parallel()

	n := New(nil)
	out := n.NormalizeBatch([]intel.Candidate{
		{Type: intel.TypeIP, Value: "10.0.0.1"},
		{Type: intel.TypeIP, Value: "garbage"},
		{Type: intel.TypeCVE, Value: "cve-2023-44487"},
	}, time.Now().UTC())

	require.Len(t, out, 2)
	assert.Equal(t, "10.0.0.1", out[0].Value)
	assert.Equal(t, "CVE-2023-44487", out[1].Value)
}

func TestHashAlgorithmByLength(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "md5", HashAlgorithm(strings.Repeat("a", 32)))
	assert.Equal(t, "sha1", HashAlgorithm(strings.Repeat("a", 40)))
	assert.Equal(t, "sha256", HashAlgorithm(strings.Repeat("a", 64)))
	assert.Equal(t, "unknown", HashAlgorithm("abc"))
}
