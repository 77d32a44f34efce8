// Package pricefeed pulls competitor shelf prices from an HTTP quote service.
package pricefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
)

const (
	quotePath        = "/competitor-prices"
	defaultBatchSize = 200
	defaultUserAgent = "promo-planner/1.0"
)

// PriceFetcher retrieves competitor prices keyed by SKU.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, skus []string) (map[string]decimal.Decimal, error)
}

// Options parameterise the HTTP feed.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	BatchSize int
}

// Feed fetches competitor prices over HTTP.
type Feed struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// New constructs a Feed.
func New(opts Options, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "pricefeed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchPrices requests prices in batches. SKUs the service does not know are absent from the result.
func (f *Feed) FetchPrices(ctx context.Context, skus []string) (map[string]decimal.Decimal, error) {
	if f.baseURL == "" {
		return nil, errors.New("pricefeed base url not configured")
	}

	out := make(map[string]decimal.Decimal, len(skus))
	for start := 0; start < len(skus); start += f.opts.BatchSize {
		end := min(start+f.opts.BatchSize, len(skus))
		if err := f.fetchBatch(ctx, skus[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *Feed) fetchBatch(ctx context.Context, skus []string, out map[string]decimal.Decimal) error {
	body, err := json.Marshal(priceRequest{SKUs: skus})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+quotePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if f.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.opts.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}

	var res priceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decode price response: %w", err)
	}

	for _, q := range res.Prices {
		price, err := decimal.NewFromString(q.Price)
		if err != nil {
			f.logger.Warn().Str("sku", q.SKU).Str("price", q.Price).Msg("skipping unparsable competitor price")
			continue
		}
		if !price.IsPositive() {
			continue
		}
		out[q.SKU] = price
	}
	return nil
}

type priceRequest struct {
	SKUs []string `json:"skus"`
}

type priceResponse struct {
	Prices []struct {
		SKU        string `json:"sku"`
		Price      string `json:"price"`
		Source     string `json:"source"`
		ObservedAt string `json:"observed_at"`
	} `json:"prices"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price feed error (%d)", status)
}

// Enrich returns a copy of products with unknown competitor prices filled from fetcher.
// Products are keyed by SKU, or by id when the SKU is empty. Known prices are never overwritten.
func Enrich(ctx context.Context, fetcher PriceFetcher, products []promo.ProductFeatures) ([]promo.ProductFeatures, int, error) {
	out := append([]promo.ProductFeatures(nil), products...)

	keys := make([]string, 0, len(out))
	for _, p := range out {
		if !p.CompetitorPrice.Valid {
			keys = append(keys, priceKey(p))
		}
	}
	if len(keys) == 0 {
		return out, 0, nil
	}

	prices, err := fetcher.FetchPrices(ctx, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch competitor prices: %w", err)
	}

	filled := 0
	for i := range out {
		if out[i].CompetitorPrice.Valid {
			continue
		}
		if price, ok := prices[priceKey(out[i])]; ok {
			out[i].CompetitorPrice = decimal.NewNullDecimal(price)
			filled++
		}
	}
	return out, filled, nil
}

func priceKey(p promo.ProductFeatures) string {
	if p.SKU != "" {
		return p.SKU
	}
	return p.ID
}

var _ PriceFetcher = (*Feed)(nil)
