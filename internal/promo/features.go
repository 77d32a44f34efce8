package promo

import (
	"github.com/shopspring/decimal"
)

// Feature names exposed by ProductFeatures.Vector.
const (
	FeatureMargin            = "margin"
	FeatureMinSellingDays    = "min_selling_days"
	FeatureAvgDailySales     = "avg_daily_sales"
	FeatureDaysSinceLastSale = "days_since_last_sale"
	FeatureDaysToExpiry      = "days_to_expiry"
	FeatureTotalSales        = "total_sales"
	FeatureCurrentPrice      = "current_price"
	FeatureCompetitorPrice   = "competitor_price"
	FeaturePriceGap          = "competitor_price_gap"
	FeatureMarginHeadroom    = "margin_headroom"
)

// ProductFeatures is one product's feature record for a scoring run.
type ProductFeatures struct {
	ID       string `validate:"required"`
	SKU      string
	Name     string
	Category string

	Margin            *float64            `validate:"required,finite"`
	MinSellingDays    int                 `validate:"gte=0"`
	AvgDailySales     float64             `validate:"gte=0,finite"`
	DaysSinceLastSale *int                `validate:"omitempty,gte=0"`
	TotalSales        float64             `validate:"gte=0,finite"`
	CurrentPrice      decimal.NullDecimal `validate:"required,gt=0"`
	CompetitorPrice   decimal.NullDecimal `validate:"omitempty,gt=0"`

	// DaysToExpiry is nil when the product carries no expiry date; negative once expired.
	DaysToExpiry *int

	// Extra carries upstream features beyond the fixed schema, keyed by name.
	Extra map[string]float64
}

// VectorOptions controls imputation when building a model feature vector.
type VectorOptions struct {
	// NoExpiryDays substitutes a missing days-to-expiry.
	NoExpiryDays int
	// NoSaleDays substitutes a missing days-since-last-sale.
	NoSaleDays int
}

// Vector returns the named numeric features of the record.
// Competitor features are only present when the competitor price is known.
func (p ProductFeatures) Vector(opts VectorOptions) map[string]float64 {
	out := make(map[string]float64, 10+len(p.Extra))
	for k, v := range p.Extra {
		out[k] = v
	}

	if p.Margin != nil {
		out[FeatureMargin] = *p.Margin
		// 40% of margin is kept as a floor
		out[FeatureMarginHeadroom] = *p.Margin * 0.6
	}
	out[FeatureMinSellingDays] = float64(p.MinSellingDays)
	out[FeatureAvgDailySales] = p.AvgDailySales
	out[FeatureTotalSales] = p.TotalSales

	if p.DaysSinceLastSale != nil {
		out[FeatureDaysSinceLastSale] = float64(*p.DaysSinceLastSale)
	} else {
		out[FeatureDaysSinceLastSale] = float64(opts.NoSaleDays)
	}
	if p.DaysToExpiry != nil {
		out[FeatureDaysToExpiry] = float64(*p.DaysToExpiry)
	} else {
		out[FeatureDaysToExpiry] = float64(opts.NoExpiryDays)
	}

	if p.CurrentPrice.Valid {
		out[FeatureCurrentPrice] = p.CurrentPrice.Decimal.InexactFloat64()
	}
	if p.CompetitorPrice.Valid {
		out[FeatureCompetitorPrice] = p.CompetitorPrice.Decimal.InexactFloat64()
		if p.CurrentPrice.Valid && p.CurrentPrice.Decimal.IsPositive() {
			gap := p.CompetitorPrice.Decimal.Div(p.CurrentPrice.Decimal).Sub(decimal.NewFromInt(1))
			out[FeaturePriceGap] = gap.InexactFloat64()
		}
	}
	return out
}

// IntPtr is a convenience for building records with optional day counts.
func IntPtr(v int) *int {
	return &v
}

// FloatPtr is a convenience for building records with an optional margin.
func FloatPtr(v float64) *float64 {
	return &v
}

// Price wraps a float as a valid NullDecimal.
func Price(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}
