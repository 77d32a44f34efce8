package promo

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SlotBudget bounds how many products may receive a non-control arm in one run.
type SlotBudget struct {
	Total       int
	PerCategory map[string]int
}

// LimitFor reports the configured sub-limit for a category. Category names match
// case-insensitively.
func (b SlotBudget) LimitFor(category string) (int, bool) {
	if b.PerCategory == nil {
		return 0, false
	}
	if limit, ok := b.PerCategory[category]; ok {
		return limit, true
	}
	key := CategoryKey(category)
	for name, limit := range b.PerCategory {
		if CategoryKey(name) == key {
			return limit, true
		}
	}
	return 0, false
}

// CategoryKey folds a category name for comparison.
func CategoryKey(category string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(category)))
}

// Recommendation is the final output unit of a run.
type Recommendation struct {
	ProductID       string
	SKU             string
	Name            string
	Category        string
	Arm             Arm
	Discount        decimal.Decimal
	EstimatedUplift float64
	UrgencyScore    float64
	LowSupport      bool
	Event           string
	StartDate       time.Time
	EndDate         time.Time
}

// DiscountPercent renders the magnitude as a percentage with one decimal place.
func (r Recommendation) DiscountPercent() string {
	return r.Discount.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

// ArmSupport describes how much training data backed an arm.
type ArmSupport struct {
	Samples    int  `json:"samples"`
	Sufficient bool `json:"sufficient"`
}

// RunMetadata summarises a run's artifact.
type RunMetadata struct {
	RunID                string             `json:"run_id"`
	GeneratedAt          time.Time          `json:"generated_at"`
	ProductsScored       int                `json:"products_scored"`
	Candidates           int                `json:"candidates"`
	Recommended          int                `json:"recommended"`
	SlotBudget           int                `json:"slot_budget"`
	ArmCounts            map[Arm]int        `json:"arm_counts"`
	CategoryCounts       map[string]int     `json:"category_counts"`
	TotalEstimatedUplift decimal.Decimal    `json:"total_estimated_uplift"`
	AverageDiscount      decimal.Decimal    `json:"average_discount"`
	ArmSupport           map[Arm]ArmSupport `json:"arm_support,omitempty"`
	Excluded             []ExcludedRecord   `json:"excluded,omitempty"`
}

// ExcludedRecord reports a record dropped from a run and why.
type ExcludedRecord struct {
	ProductID string `json:"product_id"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// Summarize fills the aggregate fields of meta from the ordered recommendations.
func Summarize(meta RunMetadata, recs []Recommendation) RunMetadata {
	meta.Recommended = 0
	meta.ArmCounts = make(map[Arm]int)
	meta.CategoryCounts = make(map[string]int)

	total := decimal.Zero
	discounts := decimal.Zero
	for _, rec := range recs {
		meta.ArmCounts[rec.Arm]++
		meta.CategoryCounts[rec.Category]++
		if rec.Arm != ArmNoDiscount {
			meta.Recommended++
		}
		total = total.Add(decimal.NewFromFloat(rec.EstimatedUplift))
		discounts = discounts.Add(rec.Discount)
	}

	meta.TotalEstimatedUplift = total.Round(2)
	meta.AverageDiscount = decimal.Zero
	if len(recs) > 0 {
		meta.AverageDiscount = discounts.Div(decimal.NewFromInt(int64(len(recs)))).Round(4)
	}
	return meta
}

// SortedArmCounts returns arm counts ordered by descending count, then arm name.
func (m RunMetadata) SortedArmCounts() []ArmCount {
	out := make([]ArmCount, 0, len(m.ArmCounts))
	for arm, n := range m.ArmCounts {
		out = append(out, ArmCount{Arm: arm, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Arm < out[j].Arm
	})
	return out
}

// ArmCount pairs an arm with a number of recommendations.
type ArmCount struct {
	Arm   Arm
	Count int
}
