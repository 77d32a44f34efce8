package service

import (
	"context"
	"fmt"

	"promo-planner/internal/dataset"
	"promo-planner/internal/promo"
	"promo-planner/internal/storage"
)

// Source supplies the inputs of a run. Rejected rows are reported, not fatal.
type Source interface {
	Products(ctx context.Context) ([]promo.ProductFeatures, []*promo.RecordError, error)
	Observations(ctx context.Context) ([]promo.Observation, []*promo.RecordError, error)
}

// CSVSource reads products and observations from CSV files.
type CSVSource struct {
	ProductsPath     string
	ObservationsPath string
}

// Products implements Source.
func (c CSVSource) Products(ctx context.Context) ([]promo.ProductFeatures, []*promo.RecordError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return dataset.LoadProducts(c.ProductsPath)
}

// Observations implements Source.
func (c CSVSource) Observations(ctx context.Context) ([]promo.Observation, []*promo.RecordError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return dataset.LoadObservations(c.ObservationsPath)
}

// InputStore is the subset of storage a StoreSource reads from.
type InputStore interface {
	storage.ProductStore
	storage.ObservationStore
}

// StoreSource reads products and observations from PostgreSQL.
type StoreSource struct {
	Store InputStore
}

// Products implements Source.
func (s StoreSource) Products(ctx context.Context) ([]promo.ProductFeatures, []*promo.RecordError, error) {
	products, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil, nil
}

// Observations implements Source.
func (s StoreSource) Observations(ctx context.Context) ([]promo.Observation, []*promo.RecordError, error) {
	observations, err := s.Store.ListObservations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list observations: %w", err)
	}
	return observations, nil, nil
}
