// Package pipeline runs the end-to-end ingestion flow for each feed: fetch
// via the manager, parse by content class, normalize, deduplicate, score and
// persist. One feed's failure never stops the others.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctiharvest/internal/dedup"
	"ctiharvest/internal/intel"
	"ctiharvest/internal/manager"
	"ctiharvest/internal/normalize"
	"ctiharvest/internal/score"
	"ctiharvest/internal/telemetry"
)

const reportErrLimit = 500

// Pipeline wires the processing stages behind a single run entry point.
type Pipeline struct {
	manager    *manager.Manager
	normalizer *normalize.Normalizer
	dedup      *dedup.Deduplicator
	indicators intel.IndicatorStore
	victims    intel.VictimStore
	clock      intel.Clock
	logger     *zap.Logger

	// concurrency bounds how many feeds run at once. 1 keeps strictly
	// sequential execution; higher values stay safe because every shared
	// stage is already synchronized.
	concurrency int
}

// New constructs a Pipeline.
func New(
	mgr *manager.Manager,
	normalizer *normalize.Normalizer,
	dd *dedup.Deduplicator,
	indicators intel.IndicatorStore,
	victims intel.VictimStore,
	clock intel.Clock,
	logger *zap.Logger,
	concurrency int,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		manager:     mgr,
		normalizer:  normalizer,
		dedup:       dd,
		indicators:  indicators,
		victims:     victims,
		clock:       clock,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RunAll executes every enabled feed and aggregates per-feed outcomes.
// Disabled feeds are skipped silently; a failed feed contributes a failure
// entry and the run continues.
func (p *Pipeline) RunAll(ctx context.Context, feeds []intel.Feed) intel.RunSummary {
	summary := intel.RunSummary{
		RunID:      uuid.NewString(),
		ExecutedAt: p.clock.Now(),
	}
	logger := p.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("pipeline run starting", zap.Int("feeds", len(feeds)))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.concurrency)
	)
	for _, f := range feeds {
		if !p.manager.IsEnabled(f.Name()) {
			logger.Debug("skipping disabled feed", zap.String("feed", f.Name()))
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(f intel.Feed) {
			defer wg.Done()
			defer func() { <-sem }()
			report := p.ProcessFeed(ctx, f)
			mu.Lock()
			summary.Results = append(summary.Results, report)
			if report.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}(f)
	}
	wg.Wait()

	logger.Info("pipeline run finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary
}

// ProcessFeed runs one feed through every stage and reports the outcome.
// The enabled check happens here, not only in RunAll, so scheduled tasks
// that invoke ProcessFeed directly honor soft-disabling too.
func (p *Pipeline) ProcessFeed(ctx context.Context, f intel.Feed) intel.FeedReport {
	report := intel.FeedReport{Feed: f.Name(), Class: f.Class()}
	logger := p.logger.With(zap.String("feed", f.Name()))

	if !p.manager.IsEnabled(f.Name()) {
		logger.Debug("feed disabled, skipping")
		report.Skipped = true
		return report
	}

	telemetry.IncActiveRuns()
	defer telemetry.DecActiveRuns()

	res, err := p.manager.Execute(ctx, f)
	if err != nil {
		// Execute already recorded the failure in the feed's stats.
		logger.Error("feed execution failed", zap.Error(err))
		report.Error = intel.TruncateError(err.Error(), reportErrLimit)
		return report
	}

	var count int
	if f.Class() == intel.ClassDetection {
		count, err = p.ingestDetections(ctx, res)
	} else {
		count, err = p.ingestIndicators(ctx, f.Class(), res)
	}
	if err != nil {
		logger.Error("feed processing failed", zap.Error(err))
		p.manager.RecordOutcome(ctx, f.Name(), false, 0, err)
		report.Error = intel.TruncateError(err.Error(), reportErrLimit)
		return report
	}

	p.manager.RecordOutcome(ctx, f.Name(), true, count, nil)
	telemetry.ObserveIngested(f.Name(), string(f.Class()), count)
	logger.Info("feed processed", zap.Int("ingested", count))

	report.Success = true
	report.Count = count
	return report
}

// ingestIndicators runs the indicator branch: parse by class, normalize,
// deduplicate by fingerprint, score, persist.
func (p *Pipeline) ingestIndicators(ctx context.Context, class intel.ContentClass, res intel.FetchResult) (int, error) {
	parse, ok := parsers[class]
	if !ok {
		return 0, fmt.Errorf("no parser for content class %q", class)
	}
	candidates, skipped, err := parse(res)
	if err != nil {
		return 0, fmt.Errorf("parse %s payload: %w", res.Source, err)
	}
	if skipped > 0 {
		p.logger.Warn("skipped malformed records",
			zap.String("feed", res.Source), zap.Int("skipped", skipped))
	}

	now := p.clock.Now()
	indicators := p.normalizer.NormalizeBatch(candidates, now)
	unique := dedup.Deduplicate(ctx, p.dedup, indicators, func(ind intel.Indicator) string {
		return ind.Fingerprint
	})
	if len(unique) == 0 {
		return 0, nil
	}

	score.ScoreRiskBatch(unique)
	score.ScoreRelevanceBatch(unique, now)

	if err := p.indicators.UpsertBatch(ctx, unique); err != nil {
		return 0, fmt.Errorf("persist indicators from %s: %w", res.Source, err)
	}
	return len(unique), nil
}

// ingestDetections runs the victim branch: flatten the report, deduplicate
// by content hash, persist.
func (p *Pipeline) ingestDetections(ctx context.Context, res intel.FetchResult) (int, error) {
	report, ok := res.Data.(intel.DetectionReport)
	if !ok {
		return 0, fmt.Errorf("unexpected payload shape %T for detection class", res.Data)
	}

	var victims []intel.Victim
	for _, det := range report.Detections {
		victims = append(victims, det.Victims...)
	}
	unique := dedup.Deduplicate(ctx, p.dedup, victims, func(v intel.Victim) string {
		return v.ContentHash
	})
	if len(unique) == 0 {
		return 0, nil
	}

	if err := p.victims.UpsertBatch(ctx, unique); err != nil {
		return 0, fmt.Errorf("persist victims from %s: %w", res.Source, err)
	}
	return len(unique), nil
}
