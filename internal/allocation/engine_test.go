package allocation

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
	"promo-planner/internal/uplift"
)

func newEngine(cfg Config) *Engine {
	return NewEngine(cfg, nil, zerolog.Nop())
}

func candidate(id, category string, price float64) Candidate {
	return Candidate{
		Product: promo.ProductFeatures{
			ID:           id,
			Category:     category,
			Margin:       promo.FloatPtr(0.3),
			CurrentPrice: promo.Price(price),
			DaysToExpiry: promo.IntPtr(20),
		},
		Urgency: 50,
	}
}

func assertDecimal(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("got %s, want %s", got.String(), want)
	}
}

func TestMagnitudeExpiredClearanceCompetitor(t *testing.T) {
	e := newEngine(DefaultConfig())
	p := candidate("p", "dairy", 10.00).Product
	p.CompetitorPrice = promo.Price(9.50)

	m, err := e.Magnitude(promo.ArmExpiredClearance, p)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	assertDecimal(t, m, "0.0975")
}

func TestMagnitudeCompetitorRules(t *testing.T) {
	e := newEngine(DefaultConfig())
	cases := []struct {
		name       string
		arm        promo.Arm
		competitor float64
		want       string
	}{
		{"fallback without competitor", promo.ArmExpiredClearance, 0, "0.15"},
		{"clamped to max", promo.ArmExpiredClearance, 0.5, "0.9"},
		{"floored at min", promo.ArmExpiredClearance, 12, "0.05"},
		{"event factor", promo.ArmEventBased, 9, "0.118"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := candidate("p", "dairy", 10).Product
			if tc.competitor > 0 {
				p.CompetitorPrice = promo.Price(tc.competitor)
			}
			m, err := e.Magnitude(tc.arm, p)
			if err != nil {
				t.Fatalf("magnitude: %v", err)
			}
			assertDecimal(t, m, tc.want)
		})
	}
}

func TestMagnitudeFixedAndTiered(t *testing.T) {
	e := newEngine(DefaultConfig())
	p := candidate("p", "dairy", 3).Product

	m, err := e.Magnitude(promo.ArmBOGO, p)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	assertDecimal(t, m, "0.5")

	cases := []struct {
		days *int
		want string
	}{
		{promo.IntPtr(5), "0.15"},
		{promo.IntPtr(7), "0.15"},
		{promo.IntPtr(20), "0.10"},
		{promo.IntPtr(30), "0.10"},
		{promo.IntPtr(45), "0.05"},
		{nil, "0.05"},
	}
	for _, tc := range cases {
		p.DaysToExpiry = tc.days
		m, err := e.Magnitude(promo.ArmGenericDiscount, p)
		if err != nil {
			t.Fatalf("magnitude: %v", err)
		}
		assertDecimal(t, m, tc.want)
	}
}

func TestMagnitudeRounding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RoundStep = 0.05
	e := newEngine(cfg)
	p := candidate("p", "dairy", 10).Product
	p.CompetitorPrice = promo.Price(9.5)

	m, err := e.Magnitude(promo.ArmExpiredClearance, p)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	assertDecimal(t, m, "0.1")
}

func TestMagnitudeFourPlaces(t *testing.T) {
	e := newEngine(DefaultConfig())
	p := candidate("p", "dairy", 9).Product
	p.CompetitorPrice = promo.Price(7)

	m, err := e.Magnitude(promo.ArmExpiredClearance, p)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	// 1 - 6.65/9 = 0.26111...
	assertDecimal(t, m, "0.2611")
	if m.Exponent() < -4 {
		t.Fatalf("magnitude %s carries more than 4 decimal places", m)
	}
}

func TestMagnitudeRulesCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = map[string]Rule{"flashsale": {Kind: RuleFixed, Discount: 0.3}}
	e := newEngine(cfg)

	m, err := e.Magnitude(promo.Arm("FlashSale"), candidate("p", "dairy", 2).Product)
	if err != nil {
		t.Fatalf("magnitude: %v", err)
	}
	assertDecimal(t, m, "0.3")
}

func TestAllocateBudgetZero(t *testing.T) {
	e := newEngine(DefaultConfig())
	recs, err := e.Allocate([]Candidate{candidate("a", "x", 1)}, uplift.Estimates{"a": {promo.ArmBOGO: 3}}, nil, promo.SlotBudget{})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("budget 0 should yield an empty slice, got %#v", recs)
	}
}

func TestAllocateNegativeBudget(t *testing.T) {
	e := newEngine(DefaultConfig())
	if _, err := e.Allocate(nil, nil, nil, promo.SlotBudget{Total: -1}); !errors.Is(err, promo.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	budget := promo.SlotBudget{Total: 3, PerCategory: map[string]int{"x": -2}}
	if _, err := e.Allocate(nil, nil, nil, budget); !errors.Is(err, promo.ErrCapacity) {
		t.Fatalf("expected ErrCapacity for negative category limit, got %v", err)
	}
}

func fixture() ([]Candidate, uplift.Estimates) {
	candidates := []Candidate{
		candidate("a", "dairy", 10),
		candidate("b", "dairy", 10),
		candidate("c", "bakery", 10),
		candidate("d", "dairy", 10),
		candidate("e", "bakery", 10),
		candidate("f", "produce", 10),
	}
	estimates := uplift.Estimates{
		"a": {promo.ArmNoDiscount: 0, promo.ArmBOGO: 9, promo.ArmGenericDiscount: 2},
		"b": {promo.ArmNoDiscount: 0, promo.ArmExpiredClearance: 8},
		"c": {promo.ArmNoDiscount: 0, promo.ArmGenericDiscount: 7},
		"d": {promo.ArmNoDiscount: 0, promo.ArmEventBased: 6},
		"e": {promo.ArmNoDiscount: 0, promo.ArmBOGO: 5},
		"f": {promo.ArmNoDiscount: 0, promo.ArmBOGO: -1, promo.ArmGenericDiscount: -2},
	}
	return candidates, estimates
}

func TestAllocateOrderingAndOmission(t *testing.T) {
	e := newEngine(DefaultConfig())
	candidates, estimates := fixture()

	recs, err := e.Allocate(candidates, estimates, nil, promo.SlotBudget{Total: 10})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(recs) != len(want) {
		t.Fatalf("expected %d recommendations, got %d", len(want), len(recs))
	}
	for i, rec := range recs {
		if rec.ProductID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, rec.ProductID, want[i])
		}
		if rec.Arm == promo.ArmNoDiscount {
			t.Fatalf("control rows must be omitted by default")
		}
		if rec.Discount.IsNegative() || rec.Discount.GreaterThan(decimal.NewFromInt(1)) {
			t.Fatalf("magnitude out of range: %s", rec.Discount)
		}
	}
	if recs[0].Arm != promo.ArmBOGO {
		t.Fatalf("a should take BOGO, got %s", recs[0].Arm)
	}
	assertDecimal(t, recs[0].Discount, "0.5")
}

func TestAllocateIncludeNoDiscount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeNoDiscount = true
	e := newEngine(cfg)
	candidates, estimates := fixture()

	recs, err := e.Allocate(candidates, estimates, nil, promo.SlotBudget{Total: 2})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 2 admitted rows plus 1 control row, got %d", len(recs))
	}
	last := recs[len(recs)-1]
	if last.ProductID != "f" || last.Arm != promo.ArmNoDiscount || !last.Discount.IsZero() {
		t.Fatalf("control row should trail with zero magnitude, got %+v", last)
	}

	treated := 0
	for _, rec := range recs {
		if rec.Arm != promo.ArmNoDiscount {
			treated++
		}
	}
	if treated > 2 {
		t.Fatalf("控制组之外的推荐数 %d 超出预算 2", treated)
	}
}

func TestAllocateCategoryLimits(t *testing.T) {
	e := newEngine(DefaultConfig())
	candidates, estimates := fixture()
	budget := promo.SlotBudget{Total: 4, PerCategory: map[string]int{"dairy": 1, "bakery": 5}}

	recs, err := e.Allocate(candidates, estimates, nil, budget)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	counts := map[string]int{}
	for _, rec := range recs {
		counts[rec.Category]++
	}
	if counts["dairy"] != 1 {
		t.Fatalf("dairy limit exceeded: %v", counts)
	}
	if len(recs) != 3 || recs[0].ProductID != "a" || recs[1].ProductID != "c" || recs[2].ProductID != "e" {
		t.Fatalf("unexpected admission order: %+v", recs)
	}
}

func TestAllocateBudgetMonotonic(t *testing.T) {
	e := newEngine(DefaultConfig())
	candidates, estimates := fixture()
	budget := func(n int) promo.SlotBudget {
		return promo.SlotBudget{Total: n, PerCategory: map[string]int{"bakery": 1}}
	}

	prev := []promo.Recommendation{}
	for n := 0; n <= 7; n++ {
		recs, err := e.Allocate(candidates, estimates, nil, budget(n))
		if err != nil {
			t.Fatalf("allocate budget %d: %v", n, err)
		}
		if len(recs) > n {
			t.Fatalf("budget %d exceeded: %d rows", n, len(recs))
		}
		if len(recs) < len(prev) {
			t.Fatalf("budget %d admitted fewer rows than budget %d", n, n-1)
		}
		for i := range prev {
			if recs[i].ProductID != prev[i].ProductID {
				t.Fatalf("budget %d dropped %s admitted at budget %d", n, prev[i].ProductID, n-1)
			}
		}
		prev = recs
	}
}

func TestAllocateIdempotent(t *testing.T) {
	e := newEngine(DefaultConfig())
	candidates, estimates := fixture()
	budget := promo.SlotBudget{Total: 3}

	first, err := e.Allocate(candidates, estimates, nil, budget)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := e.Allocate(candidates, estimates, nil, budget)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("allocation is not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestAllocateArmTiesAndLowSupport(t *testing.T) {
	candidates := []Candidate{candidate("a", "x", 10)}
	estimates := uplift.Estimates{"a": {promo.ArmNoDiscount: 0, promo.ArmEventBased: 4, promo.ArmBOGO: 4}}

	recs, err := newEngine(DefaultConfig()).Allocate(candidates, estimates, nil, promo.SlotBudget{Total: 1})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if recs[0].Arm != promo.ArmBOGO {
		t.Fatalf("ties should resolve by arm name, got %s", recs[0].Arm)
	}

	cfg := DefaultConfig()
	cfg.LowSupportWeight = 0.5
	support := map[promo.Arm]promo.ArmSupport{
		promo.ArmBOGO:       {Samples: 3, Sufficient: false},
		promo.ArmEventBased: {Samples: 50, Sufficient: true},
	}
	estimates["a"][promo.ArmEventBased] = 3
	recs, err = newEngine(cfg).Allocate(candidates, estimates, support, promo.SlotBudget{Total: 1})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if recs[0].Arm != promo.ArmEventBased || recs[0].EstimatedUplift != 3 {
		t.Fatalf("low-support BOGO should lose to EventBased, got %s (%v)", recs[0].Arm, recs[0].EstimatedUplift)
	}
}

func TestAllocateInvalidArm(t *testing.T) {
	e := newEngine(DefaultConfig())
	candidates := []Candidate{candidate("a", "x", 10)}
	estimates := uplift.Estimates{"a": {promo.ArmNoDiscount: 0, promo.Arm("FlashSale"): 5}}

	if _, err := e.Allocate(candidates, estimates, nil, promo.SlotBudget{Total: 1}); !errors.Is(err, promo.ErrInvalidArm) {
		t.Fatalf("expected ErrInvalidArm, got %v", err)
	}
}

func TestAllocateMissingEstimates(t *testing.T) {
	e := newEngine(DefaultConfig())
	if _, err := e.Allocate([]Candidate{candidate("a", "x", 10)}, uplift.Estimates{}, nil, promo.SlotBudget{Total: 1}); !errors.Is(err, promo.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFallbackArm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventFallback = EventFallback{Enabled: true, ClearanceDays: 45, BOGOCategories: []string{"Snacks"}}
	e := newEngine(cfg)

	cases := []struct {
		name     string
		category string
		expiry   *int
		want     promo.Arm
	}{
		{"expiring soon", "snacks", promo.IntPtr(45), promo.ArmExpiredClearance},
		{"bogo category", " SNACKS ", promo.IntPtr(120), promo.ArmBOGO},
		{"no expiry", "dairy", nil, promo.ArmGenericDiscount},
		{"long shelf life", "dairy", promo.IntPtr(90), promo.ArmGenericDiscount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := candidate("p", tc.category, 10).Product
			p.DaysToExpiry = tc.expiry
			if got := e.FallbackArm(p); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFallbackRecomputesMagnitude(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventFallback = EventFallback{Enabled: true, ClearanceDays: 45}
	e := newEngine(cfg)
	p := candidate("p", "dairy", 10).Product
	p.DaysToExpiry = promo.IntPtr(5)
	rec := promo.Recommendation{ProductID: "p", Arm: promo.ArmEventBased, Discount: decimal.RequireFromString("0.15"), EstimatedUplift: 6, LowSupport: true}
	support := map[promo.Arm]promo.ArmSupport{promo.ArmExpiredClearance: {Samples: 1, Sufficient: false}}

	out, err := e.Fallback(rec, p, support)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if out.Arm != promo.ArmExpiredClearance || out.EstimatedUplift != 6 || !out.LowSupport {
		t.Fatalf("unexpected fallback row: %+v", out)
	}
	assertDecimal(t, out.Discount, "0.15")

	p.DaysToExpiry = promo.IntPtr(60)
	out, err = e.Fallback(rec, p, nil)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if out.Arm != promo.ArmGenericDiscount || out.LowSupport {
		t.Fatalf("unexpected fallback row: %+v", out)
	}
	assertDecimal(t, out.Discount, "0.05")
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cases := map[string]Rule{
		"unknown kind":      {Kind: "magic"},
		"fixed over one":    {Kind: RuleFixed, Discount: 1.2},
		"min above max":     {Kind: RuleCompetitor, CompetitorFactor: 1, FallbackFactor: 1, Min: 0.5, Max: 0.2},
		"zero factor":       {Kind: RuleCompetitor, FallbackFactor: 1, Max: 1},
		"negative tier":     {Kind: RuleTiered, Tiers: []Tier{{MaxDays: 3, Discount: -0.1}}},
		"default above one": {Kind: RuleTiered, Default: 2},
	}
	for name, rule := range cases {
		cfg := DefaultConfig()
		cfg.Rules["Custom"] = rule
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	cfg := DefaultConfig()
	cfg.EventFallback.ClearanceDays = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative clearance days should be rejected")
	}
}
