package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/fetchclient"
	"ctiharvest/internal/intel"
)

// OTXBaseURL is the AlienVault OTX v1 API root.
const OTXBaseURL = "https://otx.alienvault.com/api/v1"

const otxPageLimit = 50

// OTXIndicator is one indicator within a pulse.
type OTXIndicator struct {
	Type      string `json:"type"`
	Indicator string `json:"indicator"`
	Created   string `json:"created"`
}

// OTXPulse is one OTX pulse with its indicators.
type OTXPulse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Author      string         `json:"author_name"`
	Created     string         `json:"created"`
	Modified    string         `json:"modified"`
	Tags        []string       `json:"tags"`
	Adversary   string         `json:"adversary"`
	Indicators  []OTXIndicator `json:"indicators"`
}

// OTXPayload is the payload shape for generic-indicator results.
type OTXPayload struct {
	Pulses []OTXPulse `json:"pulses"`
}

type otxEnvelope struct {
	Results []OTXPulse `json:"results"`
}

// OTXConfig controls the AlienVault feed.
type OTXConfig struct {
	APIKey string
	// IncrementalEnabled must stay false in production configuration: the
	// subscribed-pulses endpoint 404s on modified_since queries for most
	// key tiers, and a wrong-mode request poisons every scheduled run.
	// The config layer refuses to start with this set true.
	IncrementalEnabled bool
	Limit              int
	BaseURL            string
}

// OTXFeed pulls subscribed (keyed) or public pulses from AlienVault OTX.
type OTXFeed struct {
	Base
	cfg OTXConfig
}

// NewOTXFeed constructs the AlienVault OTX feed.
func NewOTXFeed(client *fetchclient.Client, clock intel.Clock, logger *zap.Logger, cfg OTXConfig) *OTXFeed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OTXBaseURL
	}
	if cfg.Limit <= 0 || cfg.Limit > otxPageLimit {
		cfg.Limit = otxPageLimit
	}
	f := &OTXFeed{
		Base: NewBase("alienvault_otx", intel.KindOpenWeb, intel.ClassGenericIOC,
			cfg.IncrementalEnabled, client, clock, logger),
		cfg: cfg,
	}
	if cfg.APIKey == "" {
		f.logger.Warn("otx running in public mode, tight rate limits apply")
	}
	return f
}

// Fetch pulls one page of pulses. lastRun is only honored when the
// incremental capability was enabled at construction; the manager passes
// nil otherwise.
func (f *OTXFeed) Fetch(ctx context.Context, lastRun *time.Time) (intel.FetchResult, error) {
	endpoint := "/pulses/public"
	headers := http.Header{}
	if f.cfg.APIKey != "" {
		endpoint = "/pulses/subscribed"
		headers.Set("X-OTX-API-KEY", f.cfg.APIKey)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(f.cfg.Limit))
	query.Set("page", "1")
	if f.SupportsIncremental() && lastRun != nil {
		query.Set("modified_since", lastRun.UTC().Format(time.RFC3339))
		f.logger.Debug("incremental otx fetch", zap.Time("modified_since", *lastRun))
	} else {
		f.logger.Info("full otx fetch", zap.Bool("incremental", f.SupportsIncremental()))
	}

	resp, err := f.client.Fetch(ctx, fetchclient.Request{
		URL:     f.cfg.BaseURL + endpoint,
		Headers: headers,
		Query:   query,
	})
	if err != nil {
		var httpErr *fetchclient.HTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.Status {
			case http.StatusTooManyRequests:
				f.logger.Error("otx rate limit exceeded, consider an api key")
			case http.StatusNotFound:
				f.logger.Error("otx endpoint 404, check endpoint validity for this key", zap.String("endpoint", endpoint))
			}
		}
		return intel.FetchResult{}, fmt.Errorf("fetch otx pulses: %w", err)
	}

	// The API answers with {"results": [...]} on keyed tiers and a bare
	// pulse array on some public responses.
	var pulses []OTXPulse
	var envelope otxEnvelope
	if err := f.decodeJSON(resp.Body, &envelope); err == nil && envelope.Results != nil {
		pulses = envelope.Results
	} else if bareErr := f.decodeJSON(resp.Body, &pulses); bareErr != nil {
		return intel.FetchResult{}, bareErr
	}

	f.logger.Info("fetched otx pulses", zap.Int("pulses", len(pulses)), zap.String("endpoint", endpoint))
	return intel.FetchResult{
		Source:    f.Name(),
		FetchedAt: f.clock.Now(),
		Data:      OTXPayload{Pulses: pulses},
	}, nil
}

// Validate accepts any well-shaped pulse list, including an empty one: a
// quiet subscription window is plausible, a malformed envelope is not.
func (f *OTXFeed) Validate(res intel.FetchResult) bool {
	if res.Source != f.Name() {
		return false
	}
	_, ok := res.Data.(OTXPayload)
	return ok
}
