package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"promo-planner/internal/alerting"
	"promo-planner/internal/allocation"
	"promo-planner/internal/calendar"
	"promo-planner/internal/config"
	"promo-planner/internal/metrics"
	"promo-planner/internal/pricefeed"
	"promo-planner/internal/promo"
	"promo-planner/internal/regression"
	"promo-planner/internal/scheduler"
	"promo-planner/internal/storage"
	"promo-planner/internal/uplift"
	"promo-planner/internal/urgency"
)

// Pipeline stages, used as metric labels and in excluded record reports.
const (
	StageLoad         = "load"
	StagePrices       = "prices"
	StageUrgency      = "urgency"
	StageObservations = "observations"
	StageTraining     = "training"
	StageEstimation   = "estimation"
	StageAllocation   = "allocation"
	StageCalendar     = "calendar"
	StagePersist      = "persist"
)

// Service orchestrates loading, scoring, estimation, allocation, persistence and alerting.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	source    Source
	prices    pricefeed.PriceFetcher
	runs      storage.RunStore
	notifier  alerting.Notifier
	factory   regression.Factory
	logger    zerolog.Logger

	scorer  *urgency.Scorer
	engine  *allocation.Engine
	planner *calendar.Planner

	locker  storage.AdvisoryLocker
	lockKey int64
	now     func() time.Time
}

// Deps carries the optional collaborators of a Service. Nil fields disable the feature.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Source    Source
	Prices    pricefeed.PriceFetcher
	Runs      storage.RunStore
	Notifier  alerting.Notifier
	Factory   regression.Factory
	Allocator allocation.Allocator
}

// New constructs the planning service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Runs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		cfg:       cfg,
		scheduler: deps.Scheduler,
		source:    deps.Source,
		prices:    deps.Prices,
		runs:      deps.Runs,
		notifier:  deps.Notifier,
		factory:   deps.Factory,
		logger:    logger.With().Str("component", "service").Logger(),
		scorer:    urgency.NewScorer(cfg.Urgency, logger),
		engine:    allocation.NewEngine(cfg.Allocation, deps.Allocator, logger),
		planner:   calendar.NewPlanner(cfg.Calendar, logger),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Budget builds the slot budget of a run from configuration and an optional override.
func (s *Service) Budget(override int) promo.SlotBudget {
	return promo.SlotBudget{
		Total:       s.cfg.ResolveSlots(override),
		PerCategory: s.cfg.Budget.CategoryLimits,
	}
}

// Run begins the scheduled regeneration loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessSlot)
}

// ProcessSlot 执行单个调度周期的规划逻辑。
func (s *Service) ProcessSlot(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := s.Plan(ctx, slot, s.Budget(0)); err != nil {
		return err
	}
	s.pruneRuns(ctx, slot)
	return nil
}

// Plan executes one full run as of asOf and returns its artifact. The run is persisted and
// announced when a run store and notifier are configured.
func (s *Service) Plan(ctx context.Context, asOf time.Time, budget promo.SlotBudget) (storage.RunRecord, error) {
	started := time.Now()
	record, err := s.plan(ctx, asOf, budget)
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return storage.RunRecord{}, err
	}
	metrics.RunsTotal.WithLabelValues("success").Inc()
	return record, nil
}

func (s *Service) plan(ctx context.Context, asOf time.Time, budget promo.SlotBudget) (storage.RunRecord, error) {
	if err := checkBudget(budget); err != nil {
		return storage.RunRecord{}, err
	}
	if s.source == nil {
		return storage.RunRecord{}, fmt.Errorf("input source not configured")
	}

	meta := promo.RunMetadata{
		RunID:       uuid.NewString(),
		GeneratedAt: s.now(),
		SlotBudget:  budget.Total,
	}
	logger := s.logger.With().Str("run_id", meta.RunID).Logger()
	logger.Info().Time("as_of", asOf).Int("slots", budget.Total).Msg("planning run started")

	stage := time.Now()
	products, rejected, err := s.source.Products(ctx)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("load products: %w", err)
	}
	meta.Excluded = appendExcluded(meta.Excluded, StageLoad, rejected)
	metrics.ObserveStage(StageLoad, stage)

	if s.prices != nil {
		stage = time.Now()
		enriched, filled, err := pricefeed.Enrich(ctx, s.prices, products)
		if err != nil {
			if ctx.Err() != nil {
				return storage.RunRecord{}, ctx.Err()
			}
			logger.Warn().Err(err).Msg("competitor price feed unavailable; using stored prices")
		} else {
			products = enriched
			logger.Debug().Int("filled", filled).Msg("competitor prices enriched")
		}
		metrics.ObserveStage(StagePrices, stage)
	}

	stage = time.Now()
	scored, err := s.scorer.Score(products)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("score urgency: %w", err)
	}
	meta.Excluded = appendExcluded(meta.Excluded, StageUrgency, scored.Excluded)
	meta.ProductsScored = len(scored.Scores)
	metrics.ProductsScored.Set(float64(meta.ProductsScored))
	metrics.ObserveStage(StageUrgency, stage)

	var recs []promo.Recommendation
	if budget.Total > 0 {
		recs, err = s.recommend(ctx, logger, scored, budget, &meta)
		if err != nil {
			return storage.RunRecord{}, err
		}
		stage = time.Now()
		recs, err = s.fallbackEvents(logger, recs, scored.Records, meta.ArmSupport, asOf)
		if err != nil {
			return storage.RunRecord{}, err
		}
		recs = s.planner.Apply(recs, asOf)
		metrics.ObserveStage(StageCalendar, stage)
	} else {
		logger.Info().Msg("slot budget is zero; no recommendations")
		recs = []promo.Recommendation{}
	}

	if err := ctx.Err(); err != nil {
		return storage.RunRecord{}, err
	}

	meta = promo.Summarize(meta, recs)
	record := storage.RunRecord{Metadata: meta, Recommendations: recs}
	s.observe(record)

	if s.runs != nil {
		stage = time.Now()
		if err := s.runs.SaveRun(ctx, record); err != nil {
			return storage.RunRecord{}, fmt.Errorf("persist run: %w", err)
		}
		metrics.ObserveStage(StagePersist, stage)
	}

	logger.Info().
		Int("scored", meta.ProductsScored).
		Int("candidates", meta.Candidates).
		Int("recommended", meta.Recommended).
		Int("excluded", len(meta.Excluded)).
		Str("total_uplift", meta.TotalEstimatedUplift.String()).
		Msg("planning run completed")

	s.notify(ctx, logger, record)
	return record, nil
}

func (s *Service) recommend(ctx context.Context, logger zerolog.Logger, scored urgency.Result, budget promo.SlotBudget, meta *promo.RunMetadata) ([]promo.Recommendation, error) {
	multiplier := s.cfg.Budget.CandidateMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	ids, err := s.scorer.SelectCandidates(scored.Scores, budget.Total*multiplier)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	meta.Candidates = len(ids)
	metrics.CandidatesSelected.Set(float64(len(ids)))
	if len(ids) == 0 {
		return []promo.Recommendation{}, nil
	}

	features := make([]promo.ProductFeatures, 0, len(ids))
	candidates := make([]allocation.Candidate, 0, len(ids))
	for _, id := range ids {
		p := scored.Records[id]
		features = append(features, p)
		candidates = append(candidates, allocation.Candidate{Product: p, Urgency: scored.Scores[id]})
	}

	stage := time.Now()
	observations, rejected, err := s.source.Observations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	meta.Excluded = appendExcluded(meta.Excluded, StageObservations, rejected)
	metrics.ObserveStage(StageObservations, stage)

	stage = time.Now()
	estimator := uplift.New(s.cfg.Uplift, s.factory, logger)
	report, err := estimator.Train(ctx, observations)
	if err != nil {
		return nil, fmt.Errorf("train uplift models: %w", err)
	}
	meta.Excluded = appendExcluded(meta.Excluded, StageTraining, report.Excluded)
	meta.ArmSupport = report.Support
	for arm, support := range report.Support {
		metrics.ArmSamples.WithLabelValues(arm.String()).Set(float64(support.Samples))
	}
	if low := report.LowSupport(); len(low) > 0 {
		logger.Warn().Interface("arms", low).Msg("arms trained on fewer observations than required")
	}
	metrics.ObserveStage(StageTraining, stage)

	stage = time.Now()
	estimates, err := estimator.Estimate(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("estimate uplift: %w", err)
	}
	metrics.ObserveStage(StageEstimation, stage)

	stage = time.Now()
	recs, err := s.engine.Allocate(candidates, estimates, report.Support, budget)
	if err != nil {
		return nil, fmt.Errorf("allocate slots: %w", err)
	}
	metrics.ObserveStage(StageAllocation, stage)
	return recs, nil
}

// fallbackEvents reassigns EventBased rows whose category has no event within the horizon.
func (s *Service) fallbackEvents(logger zerolog.Logger, recs []promo.Recommendation, records map[string]promo.ProductFeatures, support map[promo.Arm]promo.ArmSupport, asOf time.Time) ([]promo.Recommendation, error) {
	if !s.cfg.Allocation.EventFallback.Enabled {
		return recs, nil
	}
	moved := 0
	for i, rec := range recs {
		if rec.Arm != promo.ArmEventBased || s.planner.HasEvent(rec.Category, asOf) {
			continue
		}
		out, err := s.engine.Fallback(rec, records[rec.ProductID], support)
		if err != nil {
			return nil, fmt.Errorf("event fallback for %s: %w", rec.ProductID, err)
		}
		recs[i] = out
		moved++
	}
	if moved > 0 {
		logger.Info().Int("rows", moved).Msg("EventBased rows without a relevant event moved to fallback arms")
	}
	return recs, nil
}

func (s *Service) observe(record storage.RunRecord) {
	for _, rec := range record.Recommendations {
		metrics.RecommendationsTotal.WithLabelValues(rec.Arm.String()).Inc()
	}
	for _, ex := range record.Metadata.Excluded {
		metrics.ExcludedRecords.WithLabelValues(ex.Stage).Inc()
	}
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, record storage.RunRecord) {
	if !s.cfg.Alerting.Enabled || s.notifier == nil {
		return
	}
	summary := alerting.NewSummary(record.Metadata, record.Recommendations, s.cfg.Alerting.TopN, s.cfg.Alerting.Channels)
	if err := s.notifier.Notify(ctx, summary); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch run summary")
	}
}

func (s *Service) pruneRuns(ctx context.Context, slot time.Time) {
	if s.runs == nil || s.cfg.Scheduler.Retention <= 0 {
		return
	}
	removed, err := s.runs.DeleteRunsBefore(ctx, slot.Add(-s.cfg.Scheduler.Retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune old runs")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("pruned old runs")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func checkBudget(budget promo.SlotBudget) error {
	if budget.Total < 0 {
		return fmt.Errorf("%w: slot budget %d is negative", promo.ErrCapacity, budget.Total)
	}
	for category, limit := range budget.PerCategory {
		if limit < 0 {
			return fmt.Errorf("%w: category %q limit %d is negative", promo.ErrCapacity, category, limit)
		}
	}
	return nil
}

func appendExcluded(dst []promo.ExcludedRecord, stage string, errs []*promo.RecordError) []promo.ExcludedRecord {
	for _, e := range errs {
		dst = append(dst, promo.ExcludedRecord{ProductID: e.ProductID, Stage: stage, Reason: e.Reason})
	}
	return dst
}
