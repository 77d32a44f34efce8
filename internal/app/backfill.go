package app

import (
	"context"
	"errors"
	"time"

	"promo-planner/internal/config"
	"promo-planner/internal/storage"
)

// Backfill 按给定区间逐日重放规划，用于回看历史参考日的推荐结果。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	step := opts.Step
	if step <= 0 {
		step = a.Config.Scheduler.Interval
	}
	if step <= 0 {
		return errors.New("backfill step 配置不合法")
	}

	start := alignForward(opts.From.UTC(), step)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	}

	var store *storage.Store
	if !opts.DryRun || a.Config.Input.Source == config.SourceDatabase {
		opened, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if opened == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		if closeStore != nil {
			defer closeStore()
		}
		store = opened
	}

	svc, err := a.newService(store, nil, !opts.DryRun, false)
	if err != nil {
		return err
	}
	budget := svc.Budget(0)

	processed := 0
	failed := 0
	for asOf := start; asOf.Before(end); asOf = asOf.Add(step) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := svc.Plan(ctx, asOf, budget)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("as_of", asOf).Msg("回填失败")
			continue
		}
		processed++
		a.Logger.Debug().Time("as_of", asOf).Str("run_id", record.Metadata.RunID).
			Int("recommended", record.Metadata.Recommended).Msg("回填完成一个参考日")
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return errors.New("部分参考日回填失败，请检查日志")
	}
	return nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
