package uplift

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"promo-planner/internal/promo"
	"promo-planner/internal/regression"
)

// meanModel predicts the training mean and records how many times it was fitted.
type meanModel struct {
	mean  float64
	fits  int
	ready bool
}

func (m *meanModel) Fit(x [][]float64, y []float64) error {
	if len(y) == 0 {
		return regression.ErrEmptyTrainingSet
	}
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	m.mean = sum / float64(len(y))
	m.fits++
	m.ready = true
	return nil
}

func (m *meanModel) Predict(x []float64) (float64, error) {
	if !m.ready {
		return 0, regression.ErrNotFitted
	}
	return m.mean, nil
}

type recordingFactory struct {
	mu     sync.Mutex
	models []*meanModel
}

func (f *recordingFactory) New() regression.Model {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &meanModel{}
	f.models = append(f.models, m)
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Features = []string{promo.FeatureMargin, promo.FeatureDaysToExpiry}
	cfg.MinSamples = 3
	cfg.Workers = 2
	return cfg
}

func observations(arm promo.Arm, n int, profit float64) []promo.Observation {
	out := make([]promo.Observation, n)
	for i := range out {
		out[i] = promo.Observation{
			ProductID:      string(arm) + "-obs",
			Features:       map[string]float64{promo.FeatureMargin: 0.3, promo.FeatureDaysToExpiry: float64(i + 1)},
			Arm:            arm,
			RealizedProfit: profit,
		}
	}
	return out
}

func candidate(id string) promo.ProductFeatures {
	return promo.ProductFeatures{
		ID:           id,
		Margin:       promo.FloatPtr(0.25),
		CurrentPrice: promo.Price(4),
		DaysToExpiry: promo.IntPtr(6),
	}
}

func TestTrainAndEstimate(t *testing.T) {
	factory := &recordingFactory{}
	est := New(testConfig(), factory.New, zerolog.Nop())

	var obs []promo.Observation
	obs = append(obs, observations(promo.ArmNoDiscount, 5, 10)...)
	obs = append(obs, observations(promo.ArmBOGO, 5, 16)...)
	obs = append(obs, observations(promo.ArmGenericDiscount, 2, 7)...)

	report, err := est.Train(context.Background(), obs)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(report.Arms) != 3 {
		t.Fatalf("expected 3 trained arms, got %v", report.Arms)
	}
	if len(factory.models) != 3 {
		t.Fatalf("expected one fresh model per arm, got %d", len(factory.models))
	}
	for _, m := range factory.models {
		if m.fits != 1 {
			t.Fatalf("every model should be fitted exactly once, got %d", m.fits)
		}
	}
	low := report.LowSupport()
	if len(low) != 1 || low[0] != promo.ArmGenericDiscount {
		t.Fatalf("expected GenericDiscount flagged as low support, got %v", low)
	}

	estimates, err := est.Estimate(context.Background(), []promo.ProductFeatures{candidate("p1"), candidate("p2")})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		u := estimates[id]
		if u[promo.ArmNoDiscount] != 0 {
			t.Fatalf("control uplift must be zero, got %v", u[promo.ArmNoDiscount])
		}
		if math.Abs(u[promo.ArmBOGO]-6) > 1e-9 {
			t.Fatalf("BOGO uplift = %v, want 6", u[promo.ArmBOGO])
		}
		if math.Abs(u[promo.ArmGenericDiscount]+3) > 1e-9 {
			t.Fatalf("GenericDiscount uplift = %v, want -3", u[promo.ArmGenericDiscount])
		}
	}
}

func TestEstimateBeforeTrain(t *testing.T) {
	est := New(testConfig(), nil, zerolog.Nop())
	if _, err := est.Estimate(context.Background(), []promo.ProductFeatures{candidate("p1")}); !errors.Is(err, promo.ErrUntrainedModel) {
		t.Fatalf("expected ErrUntrainedModel, got %v", err)
	}
	if est.Trained() {
		t.Fatalf("estimator should not report trained")
	}
}

func TestEstimateFeatureMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Features = append(cfg.Features, promo.FeatureCompetitorPrice)
	est := New(cfg, (&recordingFactory{}).New, zerolog.Nop())

	obs := observations(promo.ArmNoDiscount, 3, 1)
	for i := range obs {
		obs[i].Features[promo.FeatureCompetitorPrice] = 3.5
	}
	if _, err := est.Train(context.Background(), obs); err != nil {
		t.Fatalf("train: %v", err)
	}

	_, err := est.Estimate(context.Background(), []promo.ProductFeatures{candidate("no-competitor")})
	if !errors.Is(err, promo.ErrFeatureMismatch) {
		t.Fatalf("expected ErrFeatureMismatch, got %v", err)
	}
}

func TestTrainRequiresControl(t *testing.T) {
	est := New(testConfig(), (&recordingFactory{}).New, zerolog.Nop())
	_, err := est.Train(context.Background(), observations(promo.ArmBOGO, 5, 3))
	if !errors.Is(err, promo.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without control observations, got %v", err)
	}
	if _, err := est.Train(context.Background(), nil); !errors.Is(err, promo.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without observations, got %v", err)
	}
}

func TestTrainExcludesIncompleteObservations(t *testing.T) {
	est := New(testConfig(), (&recordingFactory{}).New, zerolog.Nop())
	obs := observations(promo.ArmNoDiscount, 4, 2)
	obs = append(obs,
		promo.Observation{ProductID: "partial", Arm: promo.ArmNoDiscount, Features: map[string]float64{promo.FeatureMargin: 1}},
		promo.Observation{ProductID: "unlabelled", Features: obs[0].Features},
		promo.Observation{ProductID: "nan", Arm: promo.ArmNoDiscount, Features: obs[0].Features, RealizedProfit: math.NaN()},
	)

	report, err := est.Train(context.Background(), obs)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(report.Excluded) != 3 {
		t.Fatalf("expected 3 excluded observations, got %d", len(report.Excluded))
	}
	if got := report.Support[promo.ArmNoDiscount].Samples; got != 4 {
		t.Fatalf("expected 4 control samples, got %d", got)
	}
}

func TestTrainCancelled(t *testing.T) {
	est := New(testConfig(), (&recordingFactory{}).New, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := est.Train(ctx, observations(promo.ArmNoDiscount, 3, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if est.Trained() {
		t.Fatalf("cancelled training must not install models")
	}
}

func TestRidgeEstimatorRecoversConstantUplift(t *testing.T) {
	cfg := testConfig()
	est := New(cfg, regression.RidgeFactory(0), zerolog.Nop())

	var obs []promo.Observation
	for i := 0; i < 30; i++ {
		days := float64(i%10 + 1)
		margin := 0.1 + float64(i%5)*0.05
		base := 2*margin + 0.5*days
		features := map[string]float64{promo.FeatureMargin: margin, promo.FeatureDaysToExpiry: days}
		obs = append(obs,
			promo.Observation{ProductID: "c", Features: features, Arm: promo.ArmNoDiscount, RealizedProfit: base},
			promo.Observation{ProductID: "t", Features: features, Arm: promo.ArmExpiredClearance, RealizedProfit: base + 4},
		)
	}

	if _, err := est.Train(context.Background(), obs); err != nil {
		t.Fatalf("train: %v", err)
	}
	estimates, err := est.Estimate(context.Background(), []promo.ProductFeatures{candidate("p")})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got := estimates["p"][promo.ArmExpiredClearance]; math.Abs(got-4) > 1e-6 {
		t.Fatalf("ExpiredClearance uplift = %v, want 4", got)
	}
}
