package promo

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// mandatoryFields fail a record outright; every other tagged field is repaired by Sanitize.
var mandatoryFields = []string{"ID", "Margin", "CurrentPrice"}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterCustomTypeFunc(nullDecimalValue, decimal.NullDecimal{})
		_ = validate.RegisterValidation("finite", isFinite)
	})
	return validate
}

// nullDecimalValue exposes a NullDecimal to validator tags as float64, or nil when unset.
func nullDecimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.NullDecimal); ok {
		if !d.Valid {
			return nil
		}
		return d.Decimal.InexactFloat64()
	}
	return nil
}

func isFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}

// ValidateFeatures checks the mandatory fields of a record.
// A nil return means the record may be scored; otherwise the *RecordError says why not.
func ValidateFeatures(p ProductFeatures) *RecordError {
	err := recordValidator().StructPartial(p, mandatoryFields...)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RecordError{ProductID: p.ID, Reason: err.Error(), Err: ErrInvalidInput}
	}
	return NewRecordError(p.ID, strings.Join(describe(verrs), "; "))
}

// Sanitize returns a copy of p whose malformed optional fields are treated as missing,
// plus one note per repaired field. Negative or non-finite counts become zero, a bad
// last-sale lag or competitor price becomes unknown, and non-finite extras are dropped.
func Sanitize(p ProductFeatures) (ProductFeatures, []string) {
	var notes []string
	err := recordValidator().StructExcept(p, mandatoryFields...)

	var verrs validator.ValidationErrors
	if err != nil && errors.As(err, &verrs) {
		notes = describe(verrs)
		for _, fe := range verrs {
			switch fe.StructField() {
			case "MinSellingDays":
				p.MinSellingDays = 0
			case "AvgDailySales":
				p.AvgDailySales = 0
			case "TotalSales":
				p.TotalSales = 0
			case "DaysSinceLastSale":
				p.DaysSinceLastSale = nil
			case "CompetitorPrice":
				p.CompetitorPrice = decimal.NullDecimal{}
			}
		}
	}

	if len(p.Extra) > 0 {
		extra := make(map[string]float64, len(p.Extra))
		for k, v := range p.Extra {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				notes = append(notes, fmt.Sprintf("%s failed finite", k))
				continue
			}
			extra[k] = v
		}
		p.Extra = extra
	}
	return p, notes
}

func describe(verrs validator.ValidationErrors) []string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", toSnake(fe.Field()), fe.Tag()))
	}
	return parts
}
func toSnake(s string) string {
	var b strings.Builder
	prevUpper := true
	for _, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if !prevUpper {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		prevUpper = upper
		b.WriteRune(r)
	}
	return b.String()
}
