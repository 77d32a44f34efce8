package allocation

import "promo-planner/internal/promo"

// Allocator admits pre-sorted recommendations under a slot budget. Implementations must keep
// the input order among admitted rows.
type Allocator interface {
	Admit(sorted []promo.Recommendation, budget promo.SlotBudget) []promo.Recommendation
}

// Greedy admits rows in order until the budget is spent, skipping rows whose category limit
// is already reached. It approximates the knapsack optimum; with unit slot costs and no
// category limits it is exact.
type Greedy struct{}

// Admit implements Allocator.
func (Greedy) Admit(sorted []promo.Recommendation, budget promo.SlotBudget) []promo.Recommendation {
	out := make([]promo.Recommendation, 0, min(len(sorted), budget.Total))
	used := make(map[string]int)
	for _, rec := range sorted {
		if len(out) >= budget.Total {
			break
		}
		key := promo.CategoryKey(rec.Category)
		if limit, ok := budget.LimitFor(rec.Category); ok && used[key] >= limit {
			continue
		}
		used[key]++
		out = append(out, rec)
	}
	return out
}

var _ Allocator = Greedy{}
