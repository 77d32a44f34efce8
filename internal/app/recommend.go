package app

import (
	"context"
	"os"
	"time"

	"promo-planner/internal/config"
	"promo-planner/internal/storage"
)

// Recommend executes one planning run and prints the ordered recommendations.
func (a *App) Recommend(ctx context.Context, opts RecommendOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	var store *storage.Store
	if opts.Persist || a.Config.Input.Source == config.SourceDatabase {
		opened, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if opened == nil && opts.Persist {
			a.Logger.Warn().Msg("database.dsn not configured; run will not be persisted")
		}
		store = opened
	}

	svc, err := a.newService(store, nil, opts.Persist, opts.Notify)
	if err != nil {
		return err
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	budget := svc.Budget(0)
	if opts.Slots != nil {
		budget.Total = *opts.Slots
	}

	record, err := svc.Plan(ctx, asOf, budget)
	if err != nil {
		return err
	}

	printRun(os.Stdout, record, opts.Limit)
	return writeArtifacts(record, artifactPaths{CSV: opts.CSVPath, JSON: opts.JSONPath, PNG: opts.PNGPath}, a.Config.Export.MaxBars)
}
