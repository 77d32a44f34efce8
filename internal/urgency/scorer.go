// Package urgency ranks products by how much they need a promotional intervention.
package urgency

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"promo-planner/internal/promo"
)

const (
	defaultExpiryWeight = 0.6
	defaultLagWeight    = 0.3
	defaultVolumeWeight = -0.1

	// MaxScore is the upper bound of an urgency score.
	MaxScore = 100.0
)

// Weights combine the normalised sub-signals into a raw score.
type Weights struct {
	Expiry float64 `mapstructure:"expiry"`
	Lag    float64 `mapstructure:"lag"`
	Volume float64 `mapstructure:"volume"`
}

// Config tunes the scorer.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	// MinScore drops products scoring below it from candidacy. Zero keeps everyone.
	MinScore float64 `mapstructure:"min_score"`
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Expiry: defaultExpiryWeight,
			Lag:    defaultLagWeight,
			Volume: defaultVolumeWeight,
		},
	}
}

// Components are the normalised sub-signals behind one score.
type Components struct {
	Expiry float64
	Lag    float64
	Volume float64
}

// Result holds the scores of every valid record plus the records that were excluded.
// Records holds each scored record as it was scored, after Sanitize.
type Result struct {
	Scores     map[string]float64
	Components map[string]Components
	Records    map[string]promo.ProductFeatures
	Excluded   []*promo.RecordError
}

// Scorer computes bounded urgency scores.
type Scorer struct {
	cfg    Config
	logger zerolog.Logger
}

// NewScorer constructs a Scorer.
func NewScorer(cfg Config, logger zerolog.Logger) *Scorer {
	return &Scorer{cfg: cfg, logger: logger.With().Str("component", "urgency").Logger()}
}

// Score computes a 0-100 urgency per product. Records missing margin or price are excluded
// and reported; records missing expiry or sales-lag metadata are scored with that component
// at its minimum. Malformed optional fields are treated as missing.
func (s *Scorer) Score(products []promo.ProductFeatures) (Result, error) {
	if len(products) == 0 {
		return Result{}, fmt.Errorf("%w: no products to score", promo.ErrInvalidInput)
	}

	res := Result{
		Scores:     make(map[string]float64, len(products)),
		Components: make(map[string]Components, len(products)),
		Records:    make(map[string]promo.ProductFeatures, len(products)),
	}

	valid := make([]promo.ProductFeatures, 0, len(products))
	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if recErr := promo.ValidateFeatures(p); recErr != nil {
			s.logger.Warn().Str("product_id", p.ID).Str("reason", recErr.Reason).Msg("record excluded from scoring")
			res.Excluded = append(res.Excluded, recErr)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			recErr := promo.NewRecordError(p.ID, "duplicate product id")
			s.logger.Warn().Str("product_id", p.ID).Msg("duplicate record excluded from scoring")
			res.Excluded = append(res.Excluded, recErr)
			continue
		}
		seen[p.ID] = struct{}{}
		clean, notes := promo.Sanitize(p)
		if len(notes) > 0 {
			s.logger.Warn().Str("product_id", p.ID).Strs("fields", notes).Msg("malformed fields treated as missing")
		}
		valid = append(valid, clean)
	}

	maxLag, maxVolume := 0.0, 0.0
	for _, p := range valid {
		if p.DaysSinceLastSale != nil {
			maxLag = math.Max(maxLag, float64(*p.DaysSinceLastSale))
		}
		maxVolume = math.Max(maxVolume, p.TotalSales)
	}

	lo, hi := s.bounds()
	for _, p := range valid {
		c := Components{
			Expiry: expiryPressure(p.DaysToExpiry),
			Volume: ratio(p.TotalSales, maxVolume),
		}
		if p.DaysSinceLastSale != nil {
			c.Lag = ratio(float64(*p.DaysSinceLastSale), maxLag)
		}
		if p.DaysToExpiry == nil || p.DaysSinceLastSale == nil {
			s.logger.Debug().Str("product_id", p.ID).
				Bool("missing_expiry", p.DaysToExpiry == nil).
				Bool("missing_last_sale", p.DaysSinceLastSale == nil).
				Msg("scoring with minimal components for missing metadata")
		}

		raw := s.cfg.Weights.Expiry*c.Expiry + s.cfg.Weights.Lag*c.Lag + s.cfg.Weights.Volume*c.Volume
		res.Scores[p.ID] = normalise(raw, lo, hi)
		res.Components[p.ID] = c
		res.Records[p.ID] = p
	}

	s.logger.Debug().Int("scored", len(res.Scores)).Int("excluded", len(res.Excluded)).Msg("urgency scored")
	return res, nil
}

// SelectCandidates returns at most budget product ids ordered by descending score, ties
// broken by ascending id.
func (s *Scorer) SelectCandidates(scores map[string]float64, budget int) ([]string, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: slot budget must be positive, got %d", promo.ErrInvalidInput, budget)
	}

	ids := make([]string, 0, len(scores))
	for id, score := range scores {
		if s.cfg.MinScore > 0 && score < s.cfg.MinScore {
			continue
		}
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})

	if len(ids) > budget {
		ids = ids[:budget]
	}
	return ids, nil
}

// bounds returns the raw score range reachable with components in [0, 1].
func (s *Scorer) bounds() (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, w := range []float64{s.cfg.Weights.Expiry, s.cfg.Weights.Lag, s.cfg.Weights.Volume} {
		if w < 0 {
			lo += w
		} else {
			hi += w
		}
	}
	return lo, hi
}

func normalise(raw, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	score := (raw - lo) / (hi - lo) * MaxScore
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(MaxScore, math.Max(0, score))
}

func expiryPressure(days *int) float64 {
	if days == nil || *days <= 0 {
		return 0
	}
	return 1 / float64(*days)
}

func ratio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, v/max))
}
