// Package intel defines core types shared across subsystems.
package intel

import (
	"time"
)

// IndicatorType enumerates the indicator kinds the normalizer understands.
type IndicatorType string

// Indicator type values stored with each record.
const (
	TypeIP     IndicatorType = "ip"
	TypeDomain IndicatorType = "domain"
	TypeURL    IndicatorType = "url"
	TypeHash   IndicatorType = "hash"
	TypeCVE    IndicatorType = "cve"
	TypeEmail  IndicatorType = "email"
)

// RiskLevel buckets a risk score into an operator-facing severity.
type RiskLevel string

// Risk level ladder: >=70 critical, >=50 high, >=30 medium, else low.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SourceKind distinguishes open-web feeds from anonymized-network feeds.
// Anonymized-network destinations must only ever be reached through the
// SOCKS proxy, never through the browser-emulating direct transport.
type SourceKind string

const (
	KindOpenWeb    SourceKind = "open_web"
	KindAnonymized SourceKind = "anonymized_network"
)

// ContentClass tags a feed with the parser branch its payload belongs to.
// Resolved once at registration; the pipeline never matches on feed names.
type ContentClass string

const (
	ClassVulnerability   ContentClass = "vulnerability"
	ClassMalwareMetadata ContentClass = "malware_metadata"
	ClassDetection       ContentClass = "ransomware_detection"
	ClassGenericIOC      ContentClass = "generic_indicator"
)

// Candidate is a raw indicator extracted by a parser, before normalization.
type Candidate struct {
	Type      IndicatorType
	Value     string
	Source    string
	FirstSeen time.Time
	Metadata  map[string]any
}

// Indicator is a normalized, scored threat indicator. Fingerprint is a pure
// function of (Type, Value) after canonicalization and is the deduplication
// and storage primary key.
type Indicator struct {
	Type           IndicatorType  `json:"ioc_type"`
	Value          string         `json:"ioc_value"`
	Source         string         `json:"source"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Fingerprint    string         `json:"fingerprint"`
	RiskScore      float64        `json:"risk_score"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	RelevanceScore float64        `json:"relevance_score"`
}

// Victim is one ransomware leak-site detection. Titles are PII-minimized
// (dates stripped, truncated, lower-cased) before hashing so cosmetic site
// changes do not register as new detections.
type Victim struct {
	Group        string    `json:"group"`
	Title        string    `json:"title"`
	DiscoveredAt time.Time `json:"discovered_at"`
	ContentHash  string    `json:"content_hash"`
}

// FetchResult is the raw payload of one feed execution. Data is feed-shaped
// and is written once to the evidence store before downstream processing.
type FetchResult struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Data      any       `json:"data"`
}

// SourceDetections holds the victims scraped from a single leak site.
type SourceDetections struct {
	URL         string   `json:"url"`
	ContentHash string   `json:"victim_hash"`
	Changed     bool     `json:"changed"`
	Victims     []Victim `json:"victims"`
}

// DetectionReport is the Data shape produced by detection-class feeds:
// one entry per monitored source.
type DetectionReport struct {
	ObservedAt     time.Time                   `json:"observed_at"`
	SourcesChecked int                         `json:"sources_checked"`
	Detections     map[string]SourceDetections `json:"detections"`
}

// FeedStats are the health counters kept per feed in the registry.
type FeedStats struct {
	RunCount            int        `json:"run_count"`
	SuccessCount        int        `json:"success_count"`
	ErrorCount          int        `json:"error_count"`
	TotalItemsCollected int        `json:"total_items_collected"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// FeedRegistration is the persisted identity and configuration of a feed.
// Feeds are upserted at startup and soft-disabled, never deleted.
type FeedRegistration struct {
	Name    string         `json:"name"`
	Kind    SourceKind     `json:"kind"`
	Class   ContentClass   `json:"content_class"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
	Stats   FeedStats      `json:"stats"`
}

// RunState is the per-feed marker persisted after a successful run.
// LastSuccess drives incremental fetches; ContentHashes drives
// change-detection for leak-site sources.
type RunState struct {
	LastSuccess   time.Time         `json:"last_success"`
	ContentHashes map[string]string `json:"content_hashes,omitempty"`
}

// FeedReport is the outcome of one feed execution within a pipeline run.
// Skipped marks a feed that was soft-disabled at dispatch time; a skipped
// feed neither succeeded nor failed.
type FeedReport struct {
	Feed    string       `json:"feed"`
	Class   ContentClass `json:"content_class"`
	Success bool         `json:"success"`
	Skipped bool         `json:"skipped,omitempty"`
	Count   int          `json:"count"`
	Error   string       `json:"error,omitempty"`
}

// RunSummary aggregates one pipeline pass over all enabled feeds.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	ExecutedAt time.Time    `json:"executed_at"`
	Results    []FeedReport `json:"results"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
}
