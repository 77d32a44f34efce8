// Package metrics holds the Prometheus collectors of the planner and the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// RunsTotal counts completed planning runs by status.
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_planner_runs_total",
		Help: "Total number of planning runs by status.",
	}, []string{"status"})

	// RunDuration observes the wall time of a whole planning run.
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "promo_planner_run_duration_seconds",
		Help:    "Duration of planning runs.",
		Buckets: prometheus.DefBuckets,
	})

	// StageDuration observes the wall time of each pipeline stage.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promo_planner_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// ProductsScored is the number of products scored in the latest run.
	ProductsScored = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "promo_planner_products_scored",
		Help: "Products scored in the latest run.",
	})

	// CandidatesSelected is the number of candidates passed to uplift estimation in the latest run.
	CandidatesSelected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "promo_planner_candidates_selected",
		Help: "Candidates passed to uplift estimation in the latest run.",
	})

	// RecommendationsTotal counts emitted recommendations by arm.
	RecommendationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_planner_recommendations_total",
		Help: "Recommendations emitted by arm.",
	}, []string{"arm"})

	// ExcludedRecords counts records excluded from a run by stage.
	ExcludedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_planner_excluded_records_total",
		Help: "Records excluded from a run by stage.",
	}, []string{"stage"})

	// ArmSamples is the number of training observations per arm in the latest run.
	ArmSamples = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "promo_planner_arm_training_samples",
		Help: "Training observations per arm in the latest run.",
	}, []string{"arm"})
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			RunDuration,
			StageDuration,
			ProductsScored,
			CandidatesSelected,
			RecommendationsTotal,
			ExcludedRecords,
			ArmSamples,
		)
	})
}

// ObserveStage records the time elapsed since start for a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
