package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctiharvest/internal/intel"
)

const leakPageSample = `<html><body>
  <nav><a href="/">Home</a><a href="/contact">Contact</a></nav>
  <div class="victim-card">Acme Corporation Global Manufacturing Holdings</div>
  <div class="victim-card">Globex International Hospital Network Group</div>
  <div class="victim-card">short</div>
  <article>Fallback article that must be ignored while cards match</article>
</body></html>`

const leakPageFallbackSample = `<html><body>
  <article>Initech Financial Services and Consulting LLC</article>
  <div class="unrelated">nothing here</div>
</body></html>`

func TestLeakSiteParsesPrioritySelector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(leakPageSample))
	}))
	defer srv.Close()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, map[string]string{
		"lockbit": srv.URL,
	})
	assert.Equal(t, intel.ClassDetection, f.Class())
	assert.Equal(t, intel.KindAnonymized, f.Kind())

	res, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, f.Validate(res))

	report, ok := res.Data.(intel.DetectionReport)
	require.True(t, ok)
	assert.Equal(t, 1, report.SourcesChecked)

	det := report.Detections["lockbit"]
	require.Len(t, det.Victims, 2, "short titles and fallback nodes are filtered")
	assert.Equal(t, "acme corporation global manufacturing holdings", det.Victims[0].Title)
	assert.Equal(t, "lockbit", det.Victims[0].Group)
	assert.NotEmpty(t, det.ContentHash)
	assert.True(t, det.Changed, "first sighting has no baseline hash")
}

func TestLeakSiteFallbackSelector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(leakPageFallbackSample))
	}))
	defer srv.Close()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, map[string]string{
		"alphv": srv.URL,
	})

	res, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)

	report := res.Data.(intel.DetectionReport)
	require.Len(t, report.Detections["alphv"].Victims, 1)
	assert.Equal(t, "initech financial services and consulting llc", report.Detections["alphv"].Victims[0].Title)
}

func TestLeakSiteChangeDetection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(leakPageSample))
	}))
	defer srv.Close()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, map[string]string{
		"lockbit": srv.URL,
	})

	first, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	hash := first.Data.(intel.DetectionReport).Detections["lockbit"].ContentHash

	f.SetKnownHashes(map[string]string{"lockbit": hash})

	second, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, second.Data.(intel.DetectionReport).Detections["lockbit"].Changed,
		"identical page content must not flag as changed")
}

func TestLeakSiteSkipsUnreachableSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(leakPageSample))
	}))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, map[string]string{
		"lockbit": srv.URL,
		"alphv":   deadURL,
	})

	res, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err, "one unreachable source must not fail the run")

	report := res.Data.(intel.DetectionReport)
	assert.Equal(t, 2, report.SourcesChecked)
	assert.Len(t, report.Detections, 1)
	assert.True(t, f.Validate(res))
}

func TestLeakSiteAbortsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, map[string]string{
		"lockbit": "http://127.0.0.1:0",
	})
	_, err := f.Fetch(ctx, nil)
	require.Error(t, err)
}

func TestLeakSiteValidateRequiresDetections(t *testing.T) {
	t.Parallel()

	f := NewLeakSiteFeed(testFetchClient(t), testClock(), nil, nil)
	assert.False(t, f.Validate(intel.FetchResult{Source: f.Name(), Data: intel.DetectionReport{}}))
	assert.False(t, f.Validate(intel.FetchResult{Source: f.Name(), Data: "nonsense"}))
}
