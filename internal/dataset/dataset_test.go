package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promo-planner/internal/promo"
)

const productsCSV = `id,sku,name,category,margin,min_selling_days,avg_daily_sales,days_since_last_sale,days_to_expiry,total_sales,current_price,competitor_price,shelf_rank
P1,SKU1,Milk 1L,dairy,0.25,3,4.5,2,10,135,10.00,9.50,3
P2,SKU2,Bread,bakery,,2,1,,,,5.00,,
P3,SKU3,Rice 5kg,staples,0.1,7,2,5.0,120,60,not-a-price,,
`

func TestReadProducts(t *testing.T) {
	products, rejected, err := ReadProducts(strings.NewReader(productsCSV))
	if err != nil {
		t.Fatalf("read products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if len(rejected) != 1 || rejected[0].ProductID != "P3" {
		t.Fatalf("expected P3 rejected, got %+v", rejected)
	}

	p1 := products[0]
	if p1.Margin == nil || *p1.Margin != 0.25 || *p1.DaysToExpiry != 10 {
		t.Fatalf("unexpected P1: %+v", p1)
	}
	if p1.CompetitorPrice.Decimal.String() != "9.5" || !p1.CompetitorPrice.Valid {
		t.Fatalf("unexpected competitor price: %+v", p1.CompetitorPrice)
	}
	if p1.Extra["shelf_rank"] != 3 {
		t.Fatalf("extra column not captured: %+v", p1.Extra)
	}

	p2 := products[1]
	if p2.Margin != nil || p2.DaysSinceLastSale != nil || p2.DaysToExpiry != nil || p2.CompetitorPrice.Valid {
		t.Fatalf("empty cells should stay null: %+v", p2)
	}
	if p2.Extra != nil {
		t.Fatalf("empty extra cells should be skipped: %+v", p2.Extra)
	}
	// parsing keeps the record; validation is the scorer's job
	if promo.ValidateFeatures(p2) == nil {
		t.Fatalf("P2 lacks a margin and should fail validation")
	}
}

func TestReadProductsRejectsNonFinite(t *testing.T) {
	const input = `id,margin,total_sales,days_since_last_sale,current_price
P1,0.2,Inf,3,10
P2,0.2,5,NaN,10
P3,0.2,5,1e300,10
P4,0.2,5,3,10
`
	products, rejected, err := ReadProducts(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read products: %v", err)
	}
	if len(products) != 1 || products[0].ID != "P4" {
		t.Fatalf("expected only P4 to parse, got %+v", products)
	}
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejections, got %+v", rejected)
	}
	if !strings.Contains(rejected[0].Reason, "total_sales") {
		t.Fatalf("reason should name the column: %q", rejected[0].Reason)
	}
}

func TestReadProductsMissingColumn(t *testing.T) {
	_, _, err := ReadProducts(strings.NewReader("id,name\nP1,x\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if _, _, err := ReadProducts(strings.NewReader("")); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn for empty input, got %v", err)
	}
}

const observationsCSV = `product_id,arm,realized_profit,margin,days_to_expiry
P1,NoDiscount,12.5,0.25,10
P1,BOGO,18,0.25,
P2,GenericDiscount,oops,0.1,4
P3,EventBased,3,abc,4
`

func TestReadObservations(t *testing.T) {
	observations, rejected, err := ReadObservations(strings.NewReader(observationsCSV))
	if err != nil {
		t.Fatalf("read observations: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(observations))
	}
	if len(rejected) != 2 {
		t.Fatalf("expected 2 rejected rows, got %d", len(rejected))
	}

	bogo := observations[1]
	if bogo.Arm != promo.ArmBOGO || bogo.RealizedProfit != 18 {
		t.Fatalf("unexpected observation: %+v", bogo)
	}
	if _, ok := bogo.Features["days_to_expiry"]; ok {
		t.Fatalf("empty feature should be absent")
	}
	if bogo.Features["margin"] != 0.25 {
		t.Fatalf("margin feature missing: %+v", bogo.Features)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")
	if err := os.WriteFile(path, []byte(productsCSV), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	products, _, err := LoadProducts(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}

	if _, _, err := LoadObservations(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
