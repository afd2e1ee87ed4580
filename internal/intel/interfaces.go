package intel

import (
	"context"
	"time"
)

// Feed is the capability contract implemented once per intelligence source.
//
// SupportsIncremental is a static capability flag, not a per-call decision:
// a feed whose upstream has no reliable time-filtered mode must declare
// false, and the manager will then never hand it a last-run timestamp.
type Feed interface {
	Name() string
	Kind() SourceKind
	Class() ContentClass

	SupportsIncremental() bool

	// Fetch retrieves the upstream payload. lastRun is non-nil only when
	// SupportsIncremental is true and a prior successful run exists.
	Fetch(ctx context.Context, lastRun *time.Time) (FetchResult, error)

	// Validate is a structural sanity check on the fetched payload. A false
	// return means "do not ingest, this run is unreliable" without raising.
	Validate(res FetchResult) bool
}

// FeedRegistry persists feed identity, enablement and health statistics.
type FeedRegistry interface {
	Upsert(ctx context.Context, reg FeedRegistration) error
	ListActive(ctx context.Context) ([]FeedRegistration, error)
	UpdateStats(ctx context.Context, name string, success bool, count int, errText string, at time.Time) error
	Get(ctx context.Context, name string) (FeedRegistration, error)
}

// IndicatorStore bulk-upserts indicators keyed by fingerprint. Repeat
// sightings merge metadata and bump a bounded confidence counter rather
// than overwriting history.
type IndicatorStore interface {
	UpsertBatch(ctx context.Context, indicators []Indicator) error
}

// VictimStore bulk-upserts leak-site detections keyed by (group, hash).
type VictimStore interface {
	UpsertBatch(ctx context.Context, victims []Victim) error
}

// EvidenceStore writes the raw payload of a run as an append-only,
// human-inspectable audit record and returns its location.
type EvidenceStore interface {
	Append(ctx context.Context, feedName string, at time.Time, payload any) (string, error)
}

// RunStateStore persists one small record per feed with the last successful
// run marker. A missing record is returned as a zero RunState, not an error.
type RunStateStore interface {
	Load(ctx context.Context, feedName string) (RunState, error)
	Save(ctx context.Context, feedName string, state RunState) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
