// Package postgres provides Postgres-backed persistence for indicators,
// victims and the feed registry.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ctiharvest/internal/intel"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// pgxPool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store bundles the Postgres-backed implementations of the indicator store,
// victim store and feed registry over one shared pool.
type Store struct {
	pool pgxPool
}

// New connects a pool from config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertIndicatorSQL = `
INSERT INTO indicators (
	fingerprint,
	ioc_type,
	ioc_value,
	source,
	first_seen,
	last_seen,
	metadata,
	risk_score,
	risk_level,
	relevance_score,
	confidence
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1
)
ON CONFLICT (fingerprint) DO UPDATE SET
	last_seen = GREATEST(indicators.last_seen, EXCLUDED.last_seen),
	metadata = indicators.metadata || EXCLUDED.metadata,
	risk_score = GREATEST(indicators.risk_score, EXCLUDED.risk_score),
	risk_level = CASE
		WHEN EXCLUDED.risk_score > indicators.risk_score THEN EXCLUDED.risk_level
		ELSE indicators.risk_level
	END,
	relevance_score = GREATEST(indicators.relevance_score, EXCLUDED.relevance_score),
	confidence = LEAST(indicators.confidence + 1, 10)`

// UpsertBatch writes indicators keyed by fingerprint. Repeat sightings merge
// metadata, keep the widest seen window and bump the bounded confidence
// counter.
func (s *Store) UpsertBatch(ctx context.Context, indicators []intel.Indicator) error {
	for _, ind := range indicators {
		metadata, err := json.Marshal(ind.Metadata)
		if err != nil {
			return fmt.Errorf("marshal indicator metadata: %w", err)
		}
		_, err = s.pool.Exec(ctx, upsertIndicatorSQL,
			ind.Fingerprint,
			string(ind.Type),
			ind.Value,
			ind.Source,
			ind.FirstSeen,
			ind.LastSeen,
			metadata,
			ind.RiskScore,
			string(ind.RiskLevel),
			ind.RelevanceScore,
		)
		if err != nil {
			return fmt.Errorf("upsert indicator %s: %w", ind.Fingerprint, err)
		}
	}
	return nil
}

const upsertVictimSQL = `
INSERT INTO victims (
	group_name,
	title,
	discovered_at,
	content_hash
) VALUES (
	$1,$2,$3,$4
)
ON CONFLICT (group_name, content_hash) DO UPDATE SET
	discovered_at = LEAST(victims.discovered_at, EXCLUDED.discovered_at)`

// UpsertVictims writes leak-site detections keyed by (group, content hash).
func (s *Store) UpsertVictims(ctx context.Context, victims []intel.Victim) error {
	for _, v := range victims {
		_, err := s.pool.Exec(ctx, upsertVictimSQL,
			v.Group, v.Title, v.DiscoveredAt, v.ContentHash)
		if err != nil {
			return fmt.Errorf("upsert victim %s/%s: %w", v.Group, v.ContentHash, err)
		}
	}
	return nil
}

// VictimStoreAdapter exposes the victim operations under intel.VictimStore.
type VictimStoreAdapter struct{ *Store }

// UpsertBatch satisfies intel.VictimStore.
func (a VictimStoreAdapter) UpsertBatch(ctx context.Context, victims []intel.Victim) error {
	return a.UpsertVictims(ctx, victims)
}

const upsertFeedSQL = `
INSERT INTO feeds (
	name,
	kind,
	content_class,
	enabled,
	config
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (name) DO UPDATE SET
	kind = EXCLUDED.kind,
	content_class = EXCLUDED.content_class,
	enabled = EXCLUDED.enabled,
	config = EXCLUDED.config`

// Upsert registers a feed's identity, preserving accumulated stats rows.
func (s *Store) Upsert(ctx context.Context, reg intel.FeedRegistration) error {
	config, err := json.Marshal(reg.Config)
	if err != nil {
		return fmt.Errorf("marshal feed config: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertFeedSQL,
		reg.Name, string(reg.Kind), string(reg.Class), reg.Enabled, config)
	if err != nil {
		return fmt.Errorf("upsert feed %s: %w", reg.Name, err)
	}
	return nil
}

const listActiveSQL = `
SELECT name, kind, content_class, enabled, config
FROM feeds
WHERE enabled
ORDER BY name`

// ListActive returns all enabled feeds.
func (s *Store) ListActive(ctx context.Context) ([]intel.FeedRegistration, error) {
	rows, err := s.pool.Query(ctx, listActiveSQL)
	if err != nil {
		return nil, fmt.Errorf("list active feeds: %w", err)
	}
	defer rows.Close()

	var regs []intel.FeedRegistration
	for rows.Next() {
		var reg intel.FeedRegistration
		var config []byte
		if err := rows.Scan(&reg.Name, &reg.Kind, &reg.Class, &reg.Enabled, &config); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &reg.Config); err != nil {
				return nil, fmt.Errorf("decode feed config for %s: %w", reg.Name, err)
			}
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", err)
	}
	return regs, nil
}

const getFeedSQL = `
SELECT name, kind, content_class, enabled, config,
	run_count, success_count, error_count, total_items_collected,
	last_run, last_success, last_error
FROM feeds
WHERE name = $1`

// Get returns one feed's registration with its stats.
func (s *Store) Get(ctx context.Context, name string) (intel.FeedRegistration, error) {
	var reg intel.FeedRegistration
	var config []byte
	var lastErr *string
	err := s.pool.QueryRow(ctx, getFeedSQL, name).Scan(
		&reg.Name, &reg.Kind, &reg.Class, &reg.Enabled, &config,
		&reg.Stats.RunCount, &reg.Stats.SuccessCount, &reg.Stats.ErrorCount,
		&reg.Stats.TotalItemsCollected,
		&reg.Stats.LastRun, &reg.Stats.LastSuccess, &lastErr,
	)
	if err != nil {
		return intel.FeedRegistration{}, fmt.Errorf("get feed %s: %w", name, err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &reg.Config); err != nil {
			return intel.FeedRegistration{}, fmt.Errorf("decode feed config for %s: %w", name, err)
		}
	}
	if lastErr != nil {
		reg.Stats.LastError = *lastErr
	}
	return reg, nil
}

const updateStatsSQL = `
UPDATE feeds SET
	run_count = run_count + 1,
	success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
	error_count = error_count + CASE WHEN $2 THEN 0 ELSE 1 END,
	total_items_collected = total_items_collected + $3,
	last_run = $5,
	last_success = CASE WHEN $2 THEN $5 ELSE last_success END,
	last_error = CASE WHEN $2 THEN '' ELSE $4 END
WHERE name = $1`

// UpdateStats applies one run outcome to the feed's health counters.
func (s *Store) UpdateStats(ctx context.Context, name string, success bool, count int, errText string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, updateStatsSQL, name, success, count, errText, at)
	if err != nil {
		return fmt.Errorf("update stats for %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %s not registered", name)
	}
	return nil
}
