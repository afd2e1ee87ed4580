// Package manager executes feeds end-to-end, translating each feed's
// capability flags into correct call sequencing, and owns the feed registry
// and health statistics.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ctiharvest/internal/intel"
	"ctiharvest/internal/telemetry"
)

// hashSeeder is implemented by feeds that diff page content across runs;
// the manager seeds them with the persisted baseline before each fetch.
type hashSeeder interface {
	SetKnownHashes(hashes map[string]string)
}

const errTextLimit = 500

// Manager coordinates feed execution, registration and statistics.
type Manager struct {
	registry intel.FeedRegistry
	evidence intel.EvidenceStore
	runState intel.RunStateStore
	clock    intel.Clock
	logger   *zap.Logger

	// enabledCache avoids a registry round-trip on every scheduler tick;
	// refreshed after registration changes. Staleness is bounded by the
	// time between refreshes.
	mu           sync.RWMutex
	enabledCache map[string]bool
}

// New constructs a Manager and populates the enabled cache.
func New(
	registry intel.FeedRegistry,
	evidence intel.EvidenceStore,
	runState intel.RunStateStore,
	clock intel.Clock,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry:     registry,
		evidence:     evidence,
		runState:     runState,
		clock:        clock,
		logger:       logger,
		enabledCache: make(map[string]bool),
	}
	m.RefreshCache(context.Background())
	return m
}

// Register upserts a feed's identity in the registry and refreshes the
// enabled cache. Feeds are never deleted, only soft-disabled.
func (m *Manager) Register(ctx context.Context, f intel.Feed, enabled bool, config map[string]any) error {
	reg := intel.FeedRegistration{
		Name:    f.Name(),
		Kind:    f.Kind(),
		Class:   f.Class(),
		Enabled: enabled,
		Config:  config,
	}
	if err := m.registry.Upsert(ctx, reg); err != nil {
		return fmt.Errorf("register feed %s: %w", f.Name(), err)
	}
	m.logger.Info("registered feed",
		zap.String("feed", f.Name()),
		zap.String("class", string(f.Class())),
		zap.Bool("enabled", enabled),
	)
	m.RefreshCache(ctx)
	return nil
}

// RefreshCache reloads the enabled-feed set from the registry.
func (m *Manager) RefreshCache(ctx context.Context) {
	active, err := m.registry.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to refresh feed cache", zap.Error(err))
		return
	}
	cache := make(map[string]bool, len(active))
	for _, reg := range active {
		cache[reg.Name] = true
	}
	m.mu.Lock()
	m.enabledCache = cache
	m.mu.Unlock()
}

// IsEnabled answers from the cache; it never touches the registry.
func (m *Manager) IsEnabled(feedName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabledCache[feedName]
}

// Execute runs one feed end-to-end: capability-aware fetch, validation,
// evidence write, run-state update. Failures are recorded in the feed's
// statistics and returned; the caller decides whether other feeds continue.
func (m *Manager) Execute(ctx context.Context, f intel.Feed) (intel.FetchResult, error) {
	name := f.Name()

	// The capability flag is the control flow: a feed that cannot consume
	// a timestamp must never be handed one, or the upstream answers 404.
	var lastRun *time.Time
	state, stateErr := m.runState.Load(ctx, name)
	if stateErr != nil {
		m.logger.Warn("run state unreadable, treating as first run",
			zap.String("feed", name), zap.Error(stateErr))
		state = intel.RunState{}
	}
	if f.SupportsIncremental() {
		if !state.LastSuccess.IsZero() {
			t := state.LastSuccess
			lastRun = &t
		}
		m.logger.Info("incremental execution", zap.String("feed", name), zap.Timep("last_run", lastRun))
	} else {
		m.logger.Info("full-fetch execution", zap.String("feed", name))
	}
	if seeder, ok := f.(hashSeeder); ok && state.ContentHashes != nil {
		seeder.SetKnownHashes(state.ContentHashes)
	}

	res, err := f.Fetch(ctx, lastRun)
	if err != nil {
		m.RecordOutcome(ctx, name, false, 0, err)
		return intel.FetchResult{}, &intel.ExecutionError{Feed: name, Err: err}
	}

	if !f.Validate(res) {
		vErr := &intel.ValidationError{Feed: name, Reason: "structural sanity check rejected payload"}
		m.RecordOutcome(ctx, name, false, 0, vErr)
		return intel.FetchResult{}, vErr
	}

	// Evidence is written after validation and is a hard requirement: a run
	// whose raw payload cannot be audited does not count as successful, and
	// run state is left untouched so the next run re-fetches the window.
	location, err := m.evidence.Append(ctx, name, res.FetchedAt, res)
	if err != nil {
		evErr := fmt.Errorf("evidence write: %w", err)
		m.RecordOutcome(ctx, name, false, 0, evErr)
		return intel.FetchResult{}, &intel.ExecutionError{Feed: name, Err: evErr}
	}
	m.logger.Debug("evidence saved", zap.String("feed", name), zap.String("location", location))

	newState := intel.RunState{LastSuccess: res.FetchedAt, ContentHashes: state.ContentHashes}
	if report, ok := res.Data.(intel.DetectionReport); ok {
		hashes := make(map[string]string, len(report.Detections))
		for sourceID, det := range report.Detections {
			hashes[sourceID] = det.ContentHash
		}
		newState.ContentHashes = hashes
	}
	if err := m.runState.Save(ctx, name, newState); err != nil {
		m.logger.Error("run state write failed", zap.String("feed", name), zap.Error(err))
	}

	return res, nil
}

// RecordOutcome updates the feed's persisted health statistics.
func (m *Manager) RecordOutcome(ctx context.Context, feedName string, success bool, count int, runErr error) {
	errText := ""
	if runErr != nil {
		errText = intel.TruncateError(runErr.Error(), errTextLimit)
	}
	telemetry.ObserveFeedRun(feedName, success)
	if err := m.registry.UpdateStats(ctx, feedName, success, count, errText, m.clock.Now()); err != nil {
		m.logger.Error("stats update failed", zap.String("feed", feedName), zap.Error(err))
	}
}
