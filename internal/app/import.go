package app

import (
	"context"
	"errors"

	"promo-planner/internal/dataset"
	"promo-planner/internal/promo"
)

// Import loads product and observation CSV files into PostgreSQL.
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	if opts.ProductsPath == "" && opts.ObservationsPath == "" {
		return errors.New("at least one of --products or --observations must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot import")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.ProductsPath != "" {
		products, rejected, err := dataset.LoadProducts(opts.ProductsPath)
		if err != nil {
			return err
		}
		a.logRejected("products", rejected)

		n, err := store.UpsertProducts(ctx, products)
		if err != nil {
			return err
		}
		a.Logger.Info().Int("upserted", n).Int("rejected", len(rejected)).Msg("products imported")
	}

	if opts.ObservationsPath != "" {
		observations, rejected, err := dataset.LoadObservations(opts.ObservationsPath)
		if err != nil {
			return err
		}
		a.logRejected("observations", rejected)

		n, err := store.InsertObservations(ctx, observations)
		if err != nil {
			return err
		}
		a.Logger.Info().Int64("inserted", n).Int("rejected", len(rejected)).Msg("observations imported")
	}
	return nil
}

func (a *App) logRejected(kind string, rejected []*promo.RecordError) {
	for _, r := range rejected {
		a.Logger.Warn().Str("file", kind).Str("product_id", r.ProductID).Str("reason", r.Reason).Msg("row rejected")
	}
}
