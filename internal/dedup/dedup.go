// Package dedup implements the fingerprint-based admission filter with a
// cache that persists across runs.
package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ctiharvest/internal/telemetry"
)

// CacheStore persists the set of admitted fingerprints. Load is called once
// at startup; Save receives only the fingerprints added since the last call,
// once per deduplicated batch.
type CacheStore interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	Save(ctx context.Context, added []string) error
}

// Deduplicator admits each fingerprint exactly once for the lifetime of the
// cache. The in-memory set grows monotonically; eviction is an operator
// decision taken out of band.
type Deduplicator struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	store  CacheStore
	logger *zap.Logger
}

// New builds a Deduplicator seeded from the persisted cache. A corrupt or
// unreadable cache is treated as empty, never as fatal.
func New(ctx context.Context, store CacheStore, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := make(map[string]struct{})
	if store != nil {
		loaded, err := store.Load(ctx)
		if err != nil {
			logger.Warn("dedup cache unreadable, starting empty", zap.Error(err))
		} else if loaded != nil {
			seen = loaded
		}
	}
	logger.Info("deduplicator initialized", zap.Int("cached_fingerprints", len(seen)))
	return &Deduplicator{seen: seen, store: store, logger: logger}
}

// Admit returns true and records the fingerprint if unseen, false otherwise.
// The store is not touched; use Deduplicate for batch persistence.
func (d *Deduplicator) Admit(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[fingerprint]; dup {
		return false
	}
	d.seen[fingerprint] = struct{}{}
	return true
}

// Size reports the number of cached fingerprints.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Deduplicate filters a batch down to first-seen items, preserving input
// order, and persists the newly admitted fingerprints once for the whole
// batch. Items with an empty key are kept but not tracked.
func Deduplicate[T any](ctx context.Context, d *Deduplicator, items []T, key func(T) string) []T {
	unique := make([]T, 0, len(items))
	var added []string

	d.mu.Lock()
	for _, item := range items {
		fp := key(item)
		if fp == "" {
			d.logger.Warn("item missing fingerprint, skipping deduplication")
			unique = append(unique, item)
			continue
		}
		if _, dup := d.seen[fp]; dup {
			continue
		}
		d.seen[fp] = struct{}{}
		added = append(added, fp)
		unique = append(unique, item)
	}
	cacheSize := len(d.seen)
	d.mu.Unlock()

	dropped := len(items) - len(unique)
	telemetry.ObserveDedupDropped(dropped)

	if len(added) > 0 && d.store != nil {
		if err := d.store.Save(ctx, added); err != nil {
			d.logger.Error("failed to persist dedup cache", zap.Error(err))
		}
	}

	d.logger.Debug("deduplicated batch",
		zap.Int("in", len(items)),
		zap.Int("unique", len(unique)),
		zap.Int("duplicates", dropped),
		zap.Int("cache_size", cacheSize),
	)
	return unique
}
