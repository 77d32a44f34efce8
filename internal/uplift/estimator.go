// Package uplift estimates per-arm counterfactual profit with one independent model per arm.
package uplift

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"promo-planner/internal/promo"
	"promo-planner/internal/regression"
)

const (
	defaultMinSamples   = 20
	defaultNoExpiryDays = 365
)

// DefaultFeatures is the schema used when none is configured.
var DefaultFeatures = []string{
	promo.FeatureMargin,
	promo.FeatureMinSellingDays,
	promo.FeatureAvgDailySales,
	promo.FeatureDaysSinceLastSale,
	promo.FeatureDaysToExpiry,
	promo.FeatureCurrentPrice,
}

// Config tunes the estimator.
type Config struct {
	Features     []string  `mapstructure:"features"`
	MinSamples   int       `mapstructure:"min_samples"`
	NoExpiryDays int       `mapstructure:"no_expiry_days"`
	NoSaleDays   int       `mapstructure:"no_sale_days"`
	Control      promo.Arm `mapstructure:"control"`
	Workers      int       `mapstructure:"workers"`
	Ridge        float64   `mapstructure:"ridge_lambda"`
}

// DefaultConfig returns the defaults the CLI ships with.
func DefaultConfig() Config {
	return Config{
		Features:     append([]string(nil), DefaultFeatures...),
		MinSamples:   defaultMinSamples,
		NoExpiryDays: defaultNoExpiryDays,
		Control:      promo.ArmNoDiscount,
		Ridge:        1,
	}
}

// Estimates maps product id to the uplift of every trained arm.
type Estimates map[string]map[promo.Arm]float64

// TrainReport describes the outcome of a training pass.
type TrainReport struct {
	Arms     []promo.Arm
	Support  map[promo.Arm]promo.ArmSupport
	Excluded []*promo.RecordError
}

// LowSupport lists the arms trained on fewer observations than required.
func (r TrainReport) LowSupport() []promo.Arm {
	var out []promo.Arm
	for _, arm := range r.Arms {
		if !r.Support[arm].Sufficient {
			out = append(out, arm)
		}
	}
	return out
}

// Estimator is a T-learner: one model per arm, uplift measured against the control arm.
type Estimator struct {
	cfg     Config
	factory regression.Factory
	logger  zerolog.Logger

	mu      sync.RWMutex
	models  map[promo.Arm]regression.Model
	support map[promo.Arm]promo.ArmSupport
}

// New constructs an Estimator. A nil factory falls back to ridge regression.
func New(cfg Config, factory regression.Factory, logger zerolog.Logger) *Estimator {
	if len(cfg.Features) == 0 {
		cfg.Features = append([]string(nil), DefaultFeatures...)
	}
	if cfg.Control == "" {
		cfg.Control = promo.ArmNoDiscount
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaultMinSamples
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if factory == nil {
		factory = regression.RidgeFactory(cfg.Ridge)
	}
	return &Estimator{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With().Str("component", "uplift").Logger(),
	}
}

// Features returns the trained feature schema in column order.
func (e *Estimator) Features() []string {
	return append([]string(nil), e.cfg.Features...)
}

// Control returns the control arm.
func (e *Estimator) Control() promo.Arm {
	return e.cfg.Control
}

// Support returns per-arm sample counts of the last training pass.
func (e *Estimator) Support() map[promo.Arm]promo.ArmSupport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[promo.Arm]promo.ArmSupport, len(e.support))
	for arm, s := range e.support {
		out[arm] = s
	}
	return out
}

// Trained reports whether Train has completed successfully.
func (e *Estimator) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.models != nil
}

type armData struct {
	arm    promo.Arm
	rows   [][]float64
	target []float64
}

// Train fits one fresh model per arm present in the observations.
// Arms below MinSamples are trained anyway and reported as insufficient.
func (e *Estimator) Train(ctx context.Context, observations []promo.Observation) (TrainReport, error) {
	var report TrainReport
	grouped := make(map[promo.Arm]*armData)

	for _, obs := range observations {
		if obs.Arm == "" {
			report.Excluded = append(report.Excluded, promo.NewRecordError(obs.ProductID, "observation without arm"))
			continue
		}
		if math.IsNaN(obs.RealizedProfit) || math.IsInf(obs.RealizedProfit, 0) {
			report.Excluded = append(report.Excluded, promo.NewRecordError(obs.ProductID, "non-finite realized profit"))
			continue
		}
		row, missing := e.row(obs.Features)
		if missing != "" {
			report.Excluded = append(report.Excluded, promo.NewRecordError(obs.ProductID, "missing feature "+missing))
			continue
		}

		data, ok := grouped[obs.Arm]
		if !ok {
			data = &armData{arm: obs.Arm}
			grouped[obs.Arm] = data
		}
		data.rows = append(data.rows, row)
		data.target = append(data.target, obs.RealizedProfit)
	}

	for _, ex := range report.Excluded {
		e.logger.Warn().Str("product_id", ex.ProductID).Str("reason", ex.Reason).Msg("observation excluded from training")
	}

	if len(grouped) == 0 {
		return report, fmt.Errorf("%w: no usable observations", promo.ErrInvalidInput)
	}
	if _, ok := grouped[e.cfg.Control]; !ok {
		return report, fmt.Errorf("%w: no observations for control arm %s", promo.ErrInvalidInput, e.cfg.Control)
	}

	arms := make([]promo.Arm, 0, len(grouped))
	for arm := range grouped {
		arms = append(arms, arm)
	}
	promo.SortArms(arms)

	fitted := make([]regression.Model, len(arms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, arm := range arms {
		data := grouped[arm]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			model := e.factory()
			if err := model.Fit(data.rows, data.target); err != nil {
				return fmt.Errorf("train arm %s: %w", arm, err)
			}
			fitted[i] = model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	models := make(map[promo.Arm]regression.Model, len(arms))
	support := make(map[promo.Arm]promo.ArmSupport, len(arms))
	for i, arm := range arms {
		models[arm] = fitted[i]
		n := len(grouped[arm].target)
		support[arm] = promo.ArmSupport{Samples: n, Sufficient: n >= e.cfg.MinSamples}
		if n < e.cfg.MinSamples {
			e.logger.Warn().Str("arm", arm.String()).Int("samples", n).Int("min_samples", e.cfg.MinSamples).
				Msg("arm trained on insufficient data")
		}
	}

	e.mu.Lock()
	e.models = models
	e.support = support
	e.mu.Unlock()

	report.Arms = arms
	report.Support = support
	e.logger.Info().Int("arms", len(arms)).Int("observations", len(observations)).
		Int("excluded", len(report.Excluded)).Msg("uplift models trained")
	return report, nil
}

// Estimate returns the uplift of every trained arm for every candidate. The control arm is
// always present with uplift exactly zero.
func (e *Estimator) Estimate(ctx context.Context, candidates []promo.ProductFeatures) (Estimates, error) {
	e.mu.RLock()
	models := e.models
	e.mu.RUnlock()
	if models == nil {
		return nil, promo.ErrUntrainedModel
	}

	opts := promo.VectorOptions{NoExpiryDays: e.cfg.NoExpiryDays, NoSaleDays: e.cfg.NoSaleDays}
	rows := make([][]float64, len(candidates))
	for i, c := range candidates {
		row, missing := e.row(c.Vector(opts))
		if missing != "" {
			return nil, fmt.Errorf("%w: product %s lacks feature %s", promo.ErrFeatureMismatch, c.ID, missing)
		}
		rows[i] = row
	}

	arms := make([]promo.Arm, 0, len(models))
	for arm := range models {
		arms = append(arms, arm)
	}
	promo.SortArms(arms)
	control := models[e.cfg.Control]

	results := make([]map[promo.Arm]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			base, err := control.Predict(rows[i])
			if err != nil {
				return fmt.Errorf("predict control for %s: %w", candidates[i].ID, err)
			}
			uplifts := make(map[promo.Arm]float64, len(arms))
			for _, arm := range arms {
				if arm == e.cfg.Control {
					uplifts[arm] = 0
					continue
				}
				v, err := models[arm].Predict(rows[i])
				if err != nil {
					return fmt.Errorf("predict %s for %s: %w", arm, candidates[i].ID, err)
				}
				uplifts[arm] = v - base
			}
			results[i] = uplifts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Estimates, len(candidates))
	for i, c := range candidates {
		out[c.ID] = results[i]
	}
	e.logger.Debug().Int("candidates", len(candidates)).Int("arms", len(arms)).Msg("uplift estimated")
	return out, nil
}

// row projects a named vector onto the schema, reporting the first missing feature.
func (e *Estimator) row(vector map[string]float64) ([]float64, string) {
	row := make([]float64, len(e.cfg.Features))
	for i, name := range e.cfg.Features {
		v, ok := vector[name]
		if !ok {
			return nil, name
		}
		row[i] = v
	}
	return row, ""
}
