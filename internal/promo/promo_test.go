package promo

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func validRecord() ProductFeatures {
	return ProductFeatures{
		ID:                "P001",
		Margin:            FloatPtr(0.2),
		MinSellingDays:    3,
		AvgDailySales:     1.5,
		DaysSinceLastSale: IntPtr(4),
		TotalSales:        40,
		CurrentPrice:      Price(12.5),
	}
}

func TestValidateFeatures(t *testing.T) {
	if err := ValidateFeatures(validRecord()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	cases := map[string]func(*ProductFeatures){
		"margin":        func(p *ProductFeatures) { p.Margin = nil },
		"current_price": func(p *ProductFeatures) { p.CurrentPrice = decimal.NullDecimal{} },
		"id":            func(p *ProductFeatures) { p.ID = "" },
	}
	for field, mutate := range cases {
		p := validRecord()
		mutate(&p)
		err := ValidateFeatures(p)
		if err == nil {
			t.Fatalf("%s: expected a record error", field)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", field, err)
		}
		if !strings.Contains(err.Reason, field) {
			t.Fatalf("%s: reason %q does not name the field", field, err.Reason)
		}
	}

	p := validRecord()
	p.CurrentPrice = Price(0)
	if err := ValidateFeatures(p); err == nil {
		t.Fatalf("zero price should be rejected")
	}
}

func TestValidateFeaturesIgnoresOptionalFields(t *testing.T) {
	p := validRecord()
	p.AvgDailySales = -1
	p.MinSellingDays = -2
	p.CompetitorPrice = Price(-5)
	if err := ValidateFeatures(p); err != nil {
		t.Fatalf("optional fields must not exclude a record: %v", err)
	}

	p = validRecord()
	p.Margin = FloatPtr(math.NaN())
	if err := ValidateFeatures(p); err == nil {
		t.Fatalf("NaN margin should be rejected")
	}
}

func TestSanitize(t *testing.T) {
	p := validRecord()
	p.AvgDailySales = -1
	p.MinSellingDays = -2
	p.TotalSales = math.Inf(1)
	p.DaysSinceLastSale = IntPtr(-3)
	p.CompetitorPrice = Price(-5)
	p.Extra = map[string]float64{"shelf_rank": 3, "bad": math.NaN()}

	clean, notes := Sanitize(p)
	if clean.AvgDailySales != 0 || clean.MinSellingDays != 0 || clean.TotalSales != 0 {
		t.Fatalf("bad counts not reset: %+v", clean)
	}
	if clean.DaysSinceLastSale != nil || clean.CompetitorPrice.Valid {
		t.Fatalf("bad lag or competitor price should become unknown: %+v", clean)
	}
	if _, ok := clean.Extra["bad"]; ok || clean.Extra["shelf_rank"] != 3 {
		t.Fatalf("extras not filtered: %v", clean.Extra)
	}
	if len(notes) != 6 {
		t.Fatalf("expected 6 notes, got %v", notes)
	}
	if p.CompetitorPrice.Valid != true || p.Extra["shelf_rank"] != 3 {
		t.Fatalf("Sanitize must not modify its input")
	}

	if _, notes := Sanitize(validRecord()); len(notes) != 0 {
		t.Fatalf("valid record produced notes: %v", notes)
	}
}

func TestVectorImputation(t *testing.T) {
	p := validRecord()
	p.DaysSinceLastSale = nil
	p.CompetitorPrice = Price(10)
	v := p.Vector(VectorOptions{NoExpiryDays: 365, NoSaleDays: 90})

	if v[FeatureDaysToExpiry] != 365 || v[FeatureDaysSinceLastSale] != 90 {
		t.Fatalf("missing day counts not imputed: %v", v)
	}
	if v[FeaturePriceGap] != -0.2 {
		t.Fatalf("price gap = %v, want -0.2", v[FeaturePriceGap])
	}

	p.CompetitorPrice = decimal.NullDecimal{}
	if _, ok := p.Vector(VectorOptions{})[FeatureCompetitorPrice]; ok {
		t.Fatalf("competitor price should be absent when unknown")
	}
}

func TestSummarize(t *testing.T) {
	recs := []Recommendation{
		{ProductID: "a", Category: "dairy", Arm: ArmBOGO, Discount: decimal.RequireFromString("0.5"), EstimatedUplift: 10.004},
		{ProductID: "b", Category: "dairy", Arm: ArmGenericDiscount, Discount: decimal.RequireFromString("0.1"), EstimatedUplift: 5},
		{ProductID: "c", Category: "bakery", Arm: ArmNoDiscount, Discount: decimal.Zero},
	}
	meta := Summarize(RunMetadata{RunID: "r1"}, recs)

	if meta.Recommended != 2 {
		t.Fatalf("recommended = %d, want 2", meta.Recommended)
	}
	if meta.ArmCounts[ArmBOGO] != 1 || meta.CategoryCounts["dairy"] != 2 {
		t.Fatalf("unexpected counts: %+v %+v", meta.ArmCounts, meta.CategoryCounts)
	}
	if !meta.TotalEstimatedUplift.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("total uplift = %s", meta.TotalEstimatedUplift)
	}
	if !meta.AverageDiscount.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("average discount = %s", meta.AverageDiscount)
	}

	counts := meta.SortedArmCounts()
	if len(counts) != 3 || counts[0].Arm != ArmBOGO {
		t.Fatalf("unexpected arm order: %+v", counts)
	}
}

func TestSlotBudgetLimitFor(t *testing.T) {
	b := SlotBudget{Total: 5, PerCategory: map[string]int{"minyak goreng": 2, "Dairy": 1}}
	if limit, ok := b.LimitFor("Minyak Goreng"); !ok || limit != 2 {
		t.Fatalf("expected case-insensitive match, got %d %v", limit, ok)
	}
	if limit, ok := b.LimitFor("dairy "); !ok || limit != 1 {
		t.Fatalf("expected trimmed match, got %d %v", limit, ok)
	}
	if _, ok := b.LimitFor("bakery"); ok {
		t.Fatalf("unknown category should have no limit")
	}
}

func TestParseArm(t *testing.T) {
	cases := map[string]Arm{
		"bogo":              ArmBOGO,
		" ExpiredClearance": ArmExpiredClearance,
		"nodiscount":        ArmNoDiscount,
		"FlashSale":         Arm("FlashSale"),
	}
	for in, want := range cases {
		if got := ParseArm(in); got != want {
			t.Fatalf("ParseArm(%q) = %q, want %q", in, got, want)
		}
	}
}
