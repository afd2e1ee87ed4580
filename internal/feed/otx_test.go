package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctiharvest/internal/intel"
)

const otxEnvelopeSample = `{
  "results": [
    {
      "id": "pulse-1",
      "name": "Phishing wave",
      "author_name": "researcher",
      "created": "2025-05-30T10:00:00",
      "modified": "2025-05-31T08:00:00",
      "tags": ["phishing"],
      "adversary": "FIN7",
      "indicators": [
        {"type": "IPv4", "indicator": "203.0.113.7", "created": "2025-05-30T10:00:00"},
        {"type": "domain", "indicator": "evil.example.com", "created": "2025-05-30T10:00:00"}
      ]
    }
  ]
}`

func TestOTXFetchSubscribedWithKey(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-OTX-API-KEY")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(otxEnvelopeSample))
	}))
	defer srv.Close()

	f := NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{
		APIKey:  "secret",
		Limit:   25,
		BaseURL: srv.URL,
	})

	res, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, f.Validate(res))

	assert.Equal(t, "/pulses/subscribed", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Contains(t, gotQuery, "limit=25")
	assert.NotContains(t, gotQuery, "modified_since")

	payload, ok := res.Data.(OTXPayload)
	require.True(t, ok)
	require.Len(t, payload.Pulses, 1)
	assert.Equal(t, "FIN7", payload.Pulses[0].Adversary)
	assert.Len(t, payload.Pulses[0].Indicators, 2)
}

func TestOTXFetchPublicWithoutKey(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{BaseURL: srv.URL})
	res, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "/pulses/public", gotPath)
	// Empty pulse lists are a quiet window, not a failure.
	assert.True(t, f.Validate(res))
}

func TestOTXIgnoresLastRunWhenNotIncremental(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	f := NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{BaseURL: srv.URL})
	require.False(t, f.SupportsIncremental())

	// Even if a caller passes a timestamp in error, the feed must not emit a
	// modified_since parameter while incremental mode is off.
	lastRun := time.Now().Add(-time.Hour)
	_, err := f.Fetch(context.Background(), &lastRun)
	require.NoError(t, err)
	assert.NotContains(t, gotQuery, "modified_since")
}

func TestOTXLimitClampedToPageCap(t *testing.T) {
	t.Parallel()

	f := NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{Limit: 9999})
	assert.Equal(t, otxPageLimit, f.cfg.Limit)

	f = NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{Limit: -1})
	assert.Equal(t, otxPageLimit, f.cfg.Limit)
}

func TestOTXValidateRejectsWrongShape(t *testing.T) {
	t.Parallel()

	f := NewOTXFeed(testFetchClient(t), testClock(), nil, OTXConfig{})
	assert.False(t, f.Validate(intel.FetchResult{Source: f.Name(), Data: "nonsense"}))
	assert.False(t, f.Validate(intel.FetchResult{Source: "other", Data: OTXPayload{}}))
	assert.True(t, f.Validate(intel.FetchResult{Source: f.Name(), Data: OTXPayload{}}))
}
