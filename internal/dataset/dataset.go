// Package dataset reads product feature records and historical observations from CSV.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
)

// Product columns. Columns not listed here are read as extra numeric features.
const (
	colID                = "id"
	colSKU               = "sku"
	colName              = "name"
	colCategory          = "category"
	colMargin            = "margin"
	colMinSellingDays    = "min_selling_days"
	colAvgDailySales     = "avg_daily_sales"
	colDaysSinceLastSale = "days_since_last_sale"
	colDaysToExpiry      = "days_to_expiry"
	colTotalSales        = "total_sales"
	colCurrentPrice      = "current_price"
	colCompetitorPrice   = "competitor_price"

	colProductID      = "product_id"
	colArm            = "arm"
	colRealizedProfit = "realized_profit"
)

var productColumns = map[string]struct{}{
	colID: {}, colSKU: {}, colName: {}, colCategory: {}, colMargin: {}, colMinSellingDays: {},
	colAvgDailySales: {}, colDaysSinceLastSale: {}, colDaysToExpiry: {}, colTotalSales: {},
	colCurrentPrice: {}, colCompetitorPrice: {},
}

// maxDays bounds day-count cells before integer conversion.
const maxDays = 1e6

// ErrMissingColumn is returned when a mandatory header is absent.
var ErrMissingColumn = errors.New("dataset: missing column")

type row struct {
	header map[string]int
	values []string
}

func (r row) get(col string) string {
	idx, ok := r.header[col]
	if !ok || idx >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[idx])
}

func (r row) float(col string) (float64, error) {
	v := r.get(col)
	if v == "" {
		return 0, nil
	}
	return parseFinite(col, v)
}

// parseFinite rejects Inf and NaN, which ParseFloat accepts.
func parseFinite(col, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", col, err)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%s: %q is not a finite number", col, v)
	}
	return f, nil
}

func (r row) optionalFloat(col string) (*float64, error) {
	if r.get(col) == "" {
		return nil, nil
	}
	f, err := r.float(col)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r row) optionalInt(col string) (*int, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	// day counts are sometimes exported as floats
	f, err := parseFinite(col, v)
	if err != nil {
		return nil, err
	}
	if math.Abs(f) > maxDays {
		return nil, fmt.Errorf("%s: %q is out of range", col, v)
	}
	i := int(f)
	return &i, nil
}

func (r row) decimal(col string) (decimal.NullDecimal, error) {
	v := r.get(col)
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s: %w", col, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func readHeader(reader *csv.Reader, required ...string) (map[string]int, []string, error) {
	names, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	header := make(map[string]int, len(names))
	for i, name := range names {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		names[i] = name
		header[name] = i
	}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return header, names, nil
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// ReadProducts parses product feature records. Rows that fail to parse are returned as record
// errors; structural problems abort.
func ReadProducts(r io.Reader) ([]promo.ProductFeatures, []*promo.RecordError, error) {
	reader := newReader(r)
	header, names, err := readHeader(reader, colID, colMargin, colCurrentPrice)
	if err != nil {
		return nil, nil, err
	}

	var (
		products []promo.ProductFeatures
		rejected []*promo.RecordError
	)
	for line := 2; ; line++ {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read line %d: %w", line, err)
		}

		rw := row{header: header, values: values}
		p, parseErr := parseProduct(rw, names)
		if parseErr != nil {
			id := rw.get(colID)
			if id == "" {
				id = fmt.Sprintf("line:%d", line)
			}
			rejected = append(rejected, promo.NewRecordError(id, parseErr.Error()))
			continue
		}
		products = append(products, p)
	}
	return products, rejected, nil
}

func parseProduct(rw row, names []string) (promo.ProductFeatures, error) {
	p := promo.ProductFeatures{
		ID:       rw.get(colID),
		SKU:      rw.get(colSKU),
		Name:     rw.get(colName),
		Category: rw.get(colCategory),
	}

	var err error
	if p.Margin, err = rw.optionalFloat(colMargin); err != nil {
		return p, err
	}
	minDays, err := rw.float(colMinSellingDays)
	if err != nil {
		return p, err
	}
	if math.Abs(minDays) > maxDays {
		return p, fmt.Errorf("%s: %v is out of range", colMinSellingDays, minDays)
	}
	p.MinSellingDays = int(minDays)
	if p.AvgDailySales, err = rw.float(colAvgDailySales); err != nil {
		return p, err
	}
	if p.DaysSinceLastSale, err = rw.optionalInt(colDaysSinceLastSale); err != nil {
		return p, err
	}
	if p.DaysToExpiry, err = rw.optionalInt(colDaysToExpiry); err != nil {
		return p, err
	}
	if p.TotalSales, err = rw.float(colTotalSales); err != nil {
		return p, err
	}
	if p.CurrentPrice, err = rw.decimal(colCurrentPrice); err != nil {
		return p, err
	}
	if p.CompetitorPrice, err = rw.decimal(colCompetitorPrice); err != nil {
		return p, err
	}

	for _, name := range names {
		if _, known := productColumns[name]; known || name == "" {
			continue
		}
		v, err := rw.optionalFloat(name)
		if err != nil {
			return p, err
		}
		if v == nil {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]float64)
		}
		p.Extra[name] = *v
	}
	return p, nil
}

// ReadObservations parses historical observations. Every column other than product_id, arm
// and realized_profit is a named feature; empty cells leave the feature absent.
func ReadObservations(r io.Reader) ([]promo.Observation, []*promo.RecordError, error) {
	reader := newReader(r)
	header, names, err := readHeader(reader, colArm, colRealizedProfit)
	if err != nil {
		return nil, nil, err
	}

	var (
		observations []promo.Observation
		rejected     []*promo.RecordError
	)
	for line := 2; ; line++ {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read line %d: %w", line, err)
		}

		rw := row{header: header, values: values}
		id := rw.get(colProductID)
		if id == "" {
			id = fmt.Sprintf("line:%d", line)
		}

		profit, err := rw.optionalFloat(colRealizedProfit)
		if err != nil || profit == nil {
			rejected = append(rejected, promo.NewRecordError(id, "invalid realized_profit"))
			continue
		}

		obs := promo.Observation{
			ProductID:      id,
			Arm:            promo.ParseArm(rw.get(colArm)),
			RealizedProfit: *profit,
			Features:       make(map[string]float64, len(names)),
		}
		var featureErr error
		for _, name := range names {
			if name == colProductID || name == colArm || name == colRealizedProfit || name == "" {
				continue
			}
			v, err := rw.optionalFloat(name)
			if err != nil {
				featureErr = err
				break
			}
			if v != nil {
				obs.Features[name] = *v
			}
		}
		if featureErr != nil {
			rejected = append(rejected, promo.NewRecordError(id, featureErr.Error()))
			continue
		}
		observations = append(observations, obs)
	}
	return observations, rejected, nil
}

// LoadProducts reads products from a CSV file.
func LoadProducts(path string) ([]promo.ProductFeatures, []*promo.RecordError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open products: %w", err)
	}
	defer file.Close()
	return ReadProducts(file)
}

// LoadObservations reads observations from a CSV file.
func LoadObservations(path string) ([]promo.Observation, []*promo.RecordError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open observations: %w", err)
	}
	defer file.Close()
	return ReadObservations(file)
}
