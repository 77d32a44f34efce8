package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
)

// RuleKind selects how a magnitude is derived for an arm.
type RuleKind string

const (
	// RuleNone yields a zero magnitude.
	RuleNone RuleKind = "none"
	// RuleFixed yields a constant magnitude.
	RuleFixed RuleKind = "fixed"
	// RuleCompetitor targets a price relative to the competitor, falling back to the current price.
	RuleCompetitor RuleKind = "competitor"
	// RuleTiered picks a magnitude from shelf-life tiers.
	RuleTiered RuleKind = "tiered"
)

// Tier applies Discount when days to expiry is at most MaxDays.
type Tier struct {
	MaxDays  int     `mapstructure:"max_days"`
	Discount float64 `mapstructure:"discount"`
}

// Rule configures the magnitude of one arm.
type Rule struct {
	Kind RuleKind `mapstructure:"kind"`

	// fixed
	Discount float64 `mapstructure:"discount"`

	// competitor
	CompetitorFactor float64 `mapstructure:"competitor_factor"`
	FallbackFactor   float64 `mapstructure:"fallback_factor"`
	Min              float64 `mapstructure:"min"`
	Max              float64 `mapstructure:"max"`

	// tiered; Default also covers a missing expiry
	Tiers   []Tier  `mapstructure:"tiers"`
	Default float64 `mapstructure:"default"`
}

// DefaultRules returns the magnitude rules of the built-in arms.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		string(promo.ArmNoDiscount): {Kind: RuleNone},
		string(promo.ArmBOGO):       {Kind: RuleFixed, Discount: 0.5},
		string(promo.ArmExpiredClearance): {
			Kind:             RuleCompetitor,
			CompetitorFactor: 0.95,
			FallbackFactor:   0.85,
			Min:              0.05,
			Max:              0.90,
		},
		string(promo.ArmEventBased): {
			Kind:             RuleCompetitor,
			CompetitorFactor: 0.98,
			FallbackFactor:   0.85,
			Min:              0.05,
			Max:              0.90,
		},
		string(promo.ArmGenericDiscount): {
			Kind:    RuleTiered,
			Tiers:   []Tier{{MaxDays: 7, Discount: 0.15}, {MaxDays: 30, Discount: 0.10}},
			Default: 0.05,
		},
	}
}

// Validate checks that the rule can produce magnitudes in [0, 1].
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleNone:
	case RuleFixed:
		if err := checkFraction("discount", r.Discount); err != nil {
			return err
		}
	case RuleCompetitor:
		if r.CompetitorFactor <= 0 || r.FallbackFactor <= 0 {
			return fmt.Errorf("competitor_factor and fallback_factor must be greater than zero")
		}
		if err := checkFraction("min", r.Min); err != nil {
			return err
		}
		if err := checkFraction("max", r.Max); err != nil {
			return err
		}
		if r.Min > r.Max {
			return fmt.Errorf("min %.4f exceeds max %.4f", r.Min, r.Max)
		}
	case RuleTiered:
		for _, tier := range r.Tiers {
			if err := checkFraction("tier discount", tier.Discount); err != nil {
				return err
			}
		}
		if err := checkFraction("default", r.Default); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

func checkFraction(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

// magnitudePlaces is the decimal precision of a stored magnitude.
const magnitudePlaces = 4

var (
	one = decimal.NewFromInt(1)
)

// magnitude evaluates the rule for a product; the result is clamped to [0, 1].
func (r Rule) magnitude(p promo.ProductFeatures) (decimal.Decimal, error) {
	var m decimal.Decimal
	switch r.Kind {
	case RuleNone:
		m = decimal.Zero
	case RuleFixed:
		m = decimal.NewFromFloat(r.Discount)
	case RuleCompetitor:
		if !p.CurrentPrice.Valid || !p.CurrentPrice.Decimal.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: product %s has no current price", promo.ErrInvalidInput, p.ID)
		}
		current := p.CurrentPrice.Decimal
		target := current.Mul(decimal.NewFromFloat(r.FallbackFactor))
		if p.CompetitorPrice.Valid && p.CompetitorPrice.Decimal.IsPositive() {
			target = p.CompetitorPrice.Decimal.Mul(decimal.NewFromFloat(r.CompetitorFactor))
		}
		lo, hi := decimal.NewFromFloat(r.Min), decimal.NewFromFloat(r.Max)
		m = clamp(decimal.Max(lo, one.Sub(target.Div(current))), lo, hi)
	case RuleTiered:
		m = decimal.NewFromFloat(r.Default)
		if p.DaysToExpiry != nil {
			tiers := append([]Tier(nil), r.Tiers...)
			sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MaxDays < tiers[j].MaxDays })
			for _, tier := range tiers {
				if *p.DaysToExpiry <= tier.MaxDays {
					m = decimal.NewFromFloat(tier.Discount)
					break
				}
			}
		}
	default:
		return decimal.Zero, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return clamp(m, decimal.Zero, one), nil
}

func clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
