// Package memory provides in-process store implementations used for tests
// and for running the pipeline without external infrastructure.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ctiharvest/internal/intel"
)

// maxConfidence bounds the repeat-sighting counter so a noisy feed cannot
// inflate an indicator indefinitely.
const maxConfidence = 10

// Registry is an in-memory intel.FeedRegistry.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]intel.FeedRegistration
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]intel.FeedRegistration)}
}

// Upsert inserts or updates a feed's identity, preserving accumulated stats.
func (r *Registry) Upsert(_ context.Context, reg intel.FeedRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.feeds[reg.Name]; ok {
		reg.Stats = existing.Stats
	}
	r.feeds[reg.Name] = reg
	return nil
}

// ListActive returns all enabled feeds.
func (r *Registry) ListActive(_ context.Context) ([]intel.FeedRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []intel.FeedRegistration
	for _, reg := range r.feeds {
		if reg.Enabled {
			active = append(active, reg)
		}
	}
	return active, nil
}

// Get returns one feed's registration.
func (r *Registry) Get(_ context.Context, name string) (intel.FeedRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.feeds[name]
	if !ok {
		return intel.FeedRegistration{}, fmt.Errorf("feed %s not registered", name)
	}
	return reg, nil
}

// UpdateStats applies one run outcome to the feed's health counters.
func (r *Registry) UpdateStats(_ context.Context, name string, success bool, count int, errText string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.feeds[name]
	if !ok {
		return fmt.Errorf("feed %s not registered", name)
	}
	reg.Stats.RunCount++
	t := at
	reg.Stats.LastRun = &t
	if success {
		reg.Stats.SuccessCount++
		reg.Stats.TotalItemsCollected += count
		reg.Stats.LastSuccess = &t
		reg.Stats.LastError = ""
	} else {
		reg.Stats.ErrorCount++
		reg.Stats.LastError = errText
	}
	r.feeds[name] = reg
	return nil
}

// IndicatorStore is an in-memory intel.IndicatorStore keyed by fingerprint.
type IndicatorStore struct {
	mu         sync.RWMutex
	indicators map[string]intel.Indicator
}

// NewIndicatorStore constructs an empty indicator store.
func NewIndicatorStore() *IndicatorStore {
	return &IndicatorStore{indicators: make(map[string]intel.Indicator)}
}

// UpsertBatch inserts new indicators and merges repeat sightings. A repeat
// sighting keeps the original FirstSeen, advances LastSeen, merges metadata
// keys and bumps the bounded confidence counter.
func (s *IndicatorStore) UpsertBatch(_ context.Context, indicators []intel.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range indicators {
		existing, ok := s.indicators[ind.Fingerprint]
		if !ok {
			if ind.Metadata == nil {
				ind.Metadata = map[string]any{}
			}
			ind.Metadata["confidence"] = 1
			s.indicators[ind.Fingerprint] = ind
			continue
		}
		if ind.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = ind.LastSeen
		}
		if existing.Metadata == nil {
			existing.Metadata = map[string]any{}
		}
		for k, v := range ind.Metadata {
			if k == "confidence" {
				continue
			}
			existing.Metadata[k] = v
		}
		if c, ok := existing.Metadata["confidence"].(int); ok && c < maxConfidence {
			existing.Metadata["confidence"] = c + 1
		}
		if ind.RiskScore > existing.RiskScore {
			existing.RiskScore = ind.RiskScore
			existing.RiskLevel = ind.RiskLevel
		}
		if ind.RelevanceScore > existing.RelevanceScore {
			existing.RelevanceScore = ind.RelevanceScore
		}
		s.indicators[ind.Fingerprint] = existing
	}
	return nil
}

// Get returns the indicator stored under a fingerprint.
func (s *IndicatorStore) Get(fingerprint string) (intel.Indicator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ind, ok := s.indicators[fingerprint]
	return ind, ok
}

// Len reports how many distinct indicators are stored.
func (s *IndicatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indicators)
}

// VictimStore is an in-memory intel.VictimStore keyed by (group, hash).
type VictimStore struct {
	mu      sync.RWMutex
	victims map[string]intel.Victim
}

// NewVictimStore constructs an empty victim store.
func NewVictimStore() *VictimStore {
	return &VictimStore{victims: make(map[string]intel.Victim)}
}

// UpsertBatch inserts victims; repeats of the same (group, hash) keep the
// earliest discovery time.
func (s *VictimStore) UpsertBatch(_ context.Context, victims []intel.Victim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range victims {
		key := v.Group + ":" + v.ContentHash
		if existing, ok := s.victims[key]; ok {
			if existing.DiscoveredAt.Before(v.DiscoveredAt) {
				continue
			}
		}
		s.victims[key] = v
	}
	return nil
}

// Len reports how many distinct victims are stored.
func (s *VictimStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.victims)
}
