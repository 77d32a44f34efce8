// Package allocation turns per-arm uplift estimates into a capacity-bounded list of
// promotional recommendations.
package allocation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
	"promo-planner/internal/uplift"
)

// Config tunes arm selection and magnitudes.
type Config struct {
	Rules map[string]Rule `mapstructure:"rules"`
	// LowSupportWeight scales the uplift of arms trained on too few observations during selection.
	LowSupportWeight float64 `mapstructure:"low_support_weight"`
	// MinUplift is the uplift an arm must exceed to beat the control.
	MinUplift         float64   `mapstructure:"min_uplift"`
	IncludeNoDiscount bool      `mapstructure:"include_no_discount"`
	RoundStep         float64   `mapstructure:"round_step"`
	Control           promo.Arm `mapstructure:"control"`
	// EventFallback reassigns EventBased rows that have no relevant calendar event.
	EventFallback EventFallback `mapstructure:"event_fallback"`
}

// EventFallback picks a replacement arm for EventBased rows without an event: ExpiredClearance
// when the product expires within ClearanceDays, BOGO for BOGOCategories, GenericDiscount otherwise.
type EventFallback struct {
	Enabled        bool     `mapstructure:"enabled"`
	ClearanceDays  int      `mapstructure:"clearance_days"`
	BOGOCategories []string `mapstructure:"bogo_categories"`
}

// DefaultConfig returns the built-in rules with neutral selection settings.
func DefaultConfig() Config {
	return Config{
		Rules:            DefaultRules(),
		LowSupportWeight: 1,
		Control:          promo.ArmNoDiscount,
		EventFallback:    EventFallback{ClearanceDays: 45},
	}
}

// Validate checks every rule and the selection settings.
func (c Config) Validate() error {
	if c.LowSupportWeight < 0 || c.LowSupportWeight > 1 {
		return fmt.Errorf("allocation.low_support_weight must be within [0, 1]")
	}
	if c.RoundStep < 0 || c.RoundStep > 1 {
		return fmt.Errorf("allocation.round_step must be within [0, 1]")
	}
	if c.EventFallback.ClearanceDays < 0 {
		return fmt.Errorf("allocation.event_fallback.clearance_days cannot be negative")
	}
	names := make([]string, 0, len(c.Rules))
	for name := range c.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Rules[name].Validate(); err != nil {
			return fmt.Errorf("allocation.rules.%s: %w", name, err)
		}
	}
	return nil
}

// Candidate is a product that passed urgency selection.
type Candidate struct {
	Product promo.ProductFeatures
	Urgency float64
}

// Engine selects an arm and a magnitude per candidate and enforces the slot budget.
type Engine struct {
	cfg       Config
	rules     map[string]Rule
	allocator Allocator
	logger    zerolog.Logger
}

// NewEngine constructs an Engine. A nil allocator selects Greedy.
func NewEngine(cfg Config, allocator Allocator, logger zerolog.Logger) *Engine {
	if cfg.Control == "" {
		cfg.Control = promo.ArmNoDiscount
	}
	if allocator == nil {
		allocator = Greedy{}
	}
	// config keys arrive lower-cased from viper, so rules are matched case-insensitively
	rules := make(map[string]Rule, len(cfg.Rules))
	for name, rule := range cfg.Rules {
		rules[strings.ToLower(name)] = rule
	}
	return &Engine{
		cfg:       cfg,
		rules:     rules,
		allocator: allocator,
		logger:    logger.With().Str("component", "allocation").Logger(),
	}
}

// Magnitude evaluates the discount rule of arm for a product.
func (e *Engine) Magnitude(arm promo.Arm, p promo.ProductFeatures) (decimal.Decimal, error) {
	rule, ok := e.rules[strings.ToLower(string(arm))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no magnitude rule for %s", promo.ErrInvalidArm, arm)
	}
	m, err := rule.magnitude(p)
	if err != nil {
		return decimal.Zero, fmt.Errorf("magnitude for %s: %w", arm, err)
	}
	if e.cfg.RoundStep > 0 && !m.IsZero() {
		step := decimal.NewFromFloat(e.cfg.RoundStep)
		m = clamp(m.Div(step).Round(0).Mul(step), decimal.Zero, one)
	}
	// stored as NUMERIC(6, 4)
	return m.Round(magnitudePlaces), nil
}

// FallbackArm returns the arm an EventBased row for p moves to when no event applies.
func (e *Engine) FallbackArm(p promo.ProductFeatures) promo.Arm {
	fb := e.cfg.EventFallback
	if p.DaysToExpiry != nil && *p.DaysToExpiry <= fb.ClearanceDays {
		return promo.ArmExpiredClearance
	}
	key := promo.CategoryKey(p.Category)
	for _, c := range fb.BOGOCategories {
		if promo.CategoryKey(c) == key {
			return promo.ArmBOGO
		}
	}
	return promo.ArmGenericDiscount
}

// Fallback moves an EventBased recommendation to FallbackArm and recomputes its magnitude.
// The uplift estimate is kept; LowSupport follows the new arm.
func (e *Engine) Fallback(rec promo.Recommendation, p promo.ProductFeatures, support map[promo.Arm]promo.ArmSupport) (promo.Recommendation, error) {
	arm := e.FallbackArm(p)
	discount, err := e.Magnitude(arm, p)
	if err != nil {
		return rec, err
	}
	e.logger.Debug().Str("product_id", rec.ProductID).Str("arm", arm.String()).Msg("no event for category; falling back")
	rec.Arm = arm
	rec.Discount = discount
	rec.LowSupport = false
	if s, known := support[arm]; known && !s.Sufficient {
		rec.LowSupport = true
	}
	return rec, nil
}

// Allocate returns the recommendations admitted under budget, ordered by descending uplift.
// support may be nil; arms it marks insufficient are down-weighted during selection.
// The result depends only on the inputs.
func (e *Engine) Allocate(candidates []Candidate, estimates uplift.Estimates, support map[promo.Arm]promo.ArmSupport, budget promo.SlotBudget) ([]promo.Recommendation, error) {
	if budget.Total < 0 {
		return nil, fmt.Errorf("%w: slot budget must not be negative, got %d", promo.ErrCapacity, budget.Total)
	}
	for category, limit := range budget.PerCategory {
		if limit < 0 {
			return nil, fmt.Errorf("%w: limit for category %q must not be negative, got %d", promo.ErrCapacity, category, limit)
		}
	}
	if budget.Total == 0 {
		return []promo.Recommendation{}, nil
	}

	treated := make([]promo.Recommendation, 0, len(candidates))
	var control []promo.Recommendation
	for _, c := range candidates {
		uplifts, ok := estimates[c.Product.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no uplift estimates for product %s", promo.ErrInvalidInput, c.Product.ID)
		}

		arm, value := e.selectArm(uplifts, support)
		rec := promo.Recommendation{
			ProductID:       c.Product.ID,
			SKU:             c.Product.SKU,
			Name:            c.Product.Name,
			Category:        c.Product.Category,
			Arm:             arm,
			Discount:        decimal.Zero,
			EstimatedUplift: value,
			UrgencyScore:    c.Urgency,
		}
		if arm == e.cfg.Control {
			control = append(control, rec)
			continue
		}

		discount, err := e.Magnitude(arm, c.Product)
		if err != nil {
			return nil, err
		}
		rec.Discount = discount
		if s, known := support[arm]; known && !s.Sufficient {
			rec.LowSupport = true
		}
		treated = append(treated, rec)
	}

	sortByUplift(treated)
	admitted := e.allocator.Admit(treated, budget)

	// control rows are informational and never occupy a slot, so with IncludeNoDiscount
	// the result may hold more rows than budget.Total; treated rows never exceed it
	if e.cfg.IncludeNoDiscount && len(control) > 0 {
		sort.SliceStable(control, func(i, j int) bool { return control[i].ProductID < control[j].ProductID })
		admitted = append(admitted, control...)
	}

	e.logger.Debug().Int("candidates", len(candidates)).Int("treated", len(treated)).
		Int("admitted", len(admitted)).Int("budget", budget.Total).Msg("allocation complete")
	return admitted, nil
}

// selectArm returns the arm with the highest weighted uplift and its unweighted uplift.
// Ties resolve to the lexicographically smallest arm; nothing above MinUplift selects the control.
func (e *Engine) selectArm(uplifts map[promo.Arm]float64, support map[promo.Arm]promo.ArmSupport) (promo.Arm, float64) {
	arms := make([]promo.Arm, 0, len(uplifts))
	for arm := range uplifts {
		if arm == e.cfg.Control {
			continue
		}
		arms = append(arms, arm)
	}
	promo.SortArms(arms)

	best := e.cfg.Control
	bestScore, bestValue := 0.0, 0.0
	for _, arm := range arms {
		value := uplifts[arm]
		score := value
		if s, known := support[arm]; known && !s.Sufficient {
			score *= e.cfg.LowSupportWeight
		}
		if best == e.cfg.Control || score > bestScore {
			best, bestScore, bestValue = arm, score, value
		}
	}

	if best == e.cfg.Control || bestScore <= e.cfg.MinUplift {
		return e.cfg.Control, 0
	}
	return best, bestValue
}

func sortByUplift(recs []promo.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].EstimatedUplift != recs[j].EstimatedUplift {
			return recs[i].EstimatedUplift > recs[j].EstimatedUplift
		}
		return recs[i].ProductID < recs[j].ProductID
	})
}
