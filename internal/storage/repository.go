package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"promo-planner/internal/promo"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound is returned when no persisted run matches.
	ErrRunNotFound = errors.New("storage: run not found")
)

const (
	upsertProductSQL = `INSERT INTO products (
        id,
        sku,
        name,
        category,
        margin,
        min_selling_days,
        avg_daily_sales,
        days_since_last_sale,
        days_to_expiry,
        total_sales,
        current_price,
        competitor_price,
        extra,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now()
    )
    ON CONFLICT (id) DO UPDATE
    SET
        sku                  = EXCLUDED.sku,
        name                 = EXCLUDED.name,
        category             = EXCLUDED.category,
        margin               = EXCLUDED.margin,
        min_selling_days     = EXCLUDED.min_selling_days,
        avg_daily_sales      = EXCLUDED.avg_daily_sales,
        days_since_last_sale = EXCLUDED.days_since_last_sale,
        days_to_expiry       = EXCLUDED.days_to_expiry,
        total_sales          = EXCLUDED.total_sales,
        current_price        = EXCLUDED.current_price,
        competitor_price     = EXCLUDED.competitor_price,
        extra                = EXCLUDED.extra,
        updated_at           = now();`

	listProductsSQL = `SELECT
        id,
        sku,
        name,
        category,
        margin,
        min_selling_days,
        avg_daily_sales,
        days_since_last_sale,
        days_to_expiry,
        total_sales,
        current_price::text,
        competitor_price::text,
        extra
    FROM products
    ORDER BY id;`

	listObservationsSQL = `SELECT
        product_id,
        arm,
        realized_profit,
        features
    FROM observations
    ORDER BY id;`

	insertRunSQL = `INSERT INTO recommendation_runs (
        run_id,
        generated_at,
        slot_budget,
        products_scored,
        candidates,
        recommended,
        total_estimated_uplift,
        average_discount,
        metadata
    ) VALUES (
        $1::uuid,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	insertRecommendationSQL = `INSERT INTO recommendations (
        run_id,
        rank,
        product_id,
        sku,
        name,
        category,
        arm,
        discount,
        estimated_uplift,
        urgency_score,
        low_support,
        event,
        start_date,
        end_date
    ) VALUES (
        $1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	latestRunSQL = `SELECT run_id::text, metadata
    FROM recommendation_runs
    ORDER BY generated_at DESC
    LIMIT 1;`

	getRunSQL = `SELECT run_id::text, metadata
    FROM recommendation_runs
    WHERE run_id = $1::uuid;`

	listRunsSQL = `SELECT
        run_id::text,
        generated_at,
        slot_budget,
        recommended,
        total_estimated_uplift::text
    FROM recommendation_runs
    ORDER BY generated_at DESC
    LIMIT $1;`

	listRecommendationsSQL = `SELECT
        product_id,
        sku,
        name,
        category,
        arm,
        discount::text,
        estimated_uplift,
        urgency_score,
        low_support,
        event,
        start_date,
        end_date
    FROM recommendations
    WHERE run_id = $1::uuid
    ORDER BY rank;`

	deleteRunsBeforeSQL = `DELETE FROM recommendation_runs WHERE generated_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ProductStore persists product feature records.
type ProductStore interface {
	UpsertProducts(ctx context.Context, products []promo.ProductFeatures) (int, error)
	ListProducts(ctx context.Context) ([]promo.ProductFeatures, error)
}

// ObservationStore persists historical observations.
type ObservationStore interface {
	InsertObservations(ctx context.Context, observations []promo.Observation) (int64, error)
	ListObservations(ctx context.Context) ([]promo.Observation, error)
}

// RunStore persists planning runs.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
	LatestRun(ctx context.Context) (RunRecord, error)
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to products, observations and runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertProducts inserts or refreshes product records in one batch.
func (s *Store) UpsertProducts(ctx context.Context, products []promo.ProductFeatures) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(products) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		extra := p.Extra
		if extra == nil {
			extra = map[string]float64{}
		}
		batch.Queue(upsertProductSQL,
			p.ID,
			p.SKU,
			p.Name,
			p.Category,
			p.Margin,
			p.MinSellingDays,
			p.AvgDailySales,
			p.DaysSinceLastSale,
			p.DaysToExpiry,
			p.TotalSales,
			nullableDecimal(p.CurrentPrice),
			nullableDecimal(p.CompetitorPrice),
			extra,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, p := range products {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}

// ListProducts returns every stored product ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]promo.ProductFeatures, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProductsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]promo.ProductFeatures, 0)
	for rows.Next() {
		p, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// InsertObservations appends observations using COPY.
func (s *Store) InsertObservations(ctx context.Context, observations []promo.Observation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	n, copyErr := pool.CopyFrom(ctx,
		pgx.Identifier{"observations"},
		[]string{"product_id", "arm", "realized_profit", "features"},
		pgx.CopyFromSlice(len(observations), func(i int) ([]any, error) {
			obs := observations[i]
			return []any{obs.ProductID, string(obs.Arm), obs.RealizedProfit, obs.Features}, nil
		}),
	)
	if copyErr != nil {
		return 0, fmt.Errorf("copy observations: %w", copyErr)
	}
	return n, nil
}

// ListObservations returns every stored observation in insertion order.
func (s *Store) ListObservations(ctx context.Context) ([]promo.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]promo.Observation, 0)
	for rows.Next() {
		var (
			obs promo.Observation
			arm string
		)
		if err := rows.Scan(&obs.ProductID, &arm, &obs.RealizedProfit, &obs.Features); err != nil {
			return nil, err
		}
		obs.Arm = promo.Arm(arm)
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// SaveRun persists a run and its recommendations in one transaction.
func (s *Store) SaveRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	meta := run.Metadata
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, insertRunSQL,
		meta.RunID,
		meta.GeneratedAt,
		meta.SlotBudget,
		meta.ProductsScored,
		meta.Candidates,
		meta.Recommended,
		meta.TotalEstimatedUplift.String(),
		meta.AverageDiscount.String(),
		metaJSON,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(run.Recommendations) > 0 {
		batch := &pgx.Batch{}
		for i, rec := range run.Recommendations {
			batch.Queue(insertRecommendationSQL,
				meta.RunID,
				i+1,
				rec.ProductID,
				rec.SKU,
				rec.Name,
				rec.Category,
				string(rec.Arm),
				rec.Discount.String(),
				rec.EstimatedUplift,
				rec.UrgencyScore,
				rec.LowSupport,
				rec.Event,
				nullableDate(rec.StartDate),
				nullableDate(rec.EndDate),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert recommendations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// LatestRun loads the most recently generated run.
func (s *Store) LatestRun(ctx context.Context) (RunRecord, error) {
	return s.loadRun(ctx, latestRunSQL)
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	return s.loadRun(ctx, getRunSQL, runID)
}

func (s *Store) loadRun(ctx context.Context, query string, args ...any) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	var (
		runID    string
		metaJSON []byte
	)
	if err := pool.QueryRow(ctx, query, args...).Scan(&runID, &metaJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, fmt.Errorf("load run: %w", err)
	}

	var run RunRecord
	if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
		return RunRecord{}, fmt.Errorf("decode run metadata: %w", err)
	}
	run.Metadata.RunID = runID

	rows, err := pool.Query(ctx, listRecommendationsSQL, runID)
	if err != nil {
		return RunRecord{}, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, scanErr := scanRecommendation(rows)
		if scanErr != nil {
			return RunRecord{}, scanErr
		}
		run.Recommendations = append(run.Recommendations, rec)
	}
	if rows.Err() != nil {
		return RunRecord{}, rows.Err()
	}
	return run, nil
}

// ListRuns lists the most recent runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0, limit)
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.RunID, &run.GeneratedAt, &run.SlotBudget, &run.Recommended, &run.TotalUplift); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// DeleteRunsBefore removes runs generated before olderThan, with their recommendations.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete runs before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanProduct(rows pgx.Rows) (promo.ProductFeatures, error) {
	var (
		p             promo.ProductFeatures
		currentStr    *string
		competitorStr *string
	)
	if err := rows.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Category,
		&p.Margin,
		&p.MinSellingDays,
		&p.AvgDailySales,
		&p.DaysSinceLastSale,
		&p.DaysToExpiry,
		&p.TotalSales,
		&currentStr,
		&competitorStr,
		&p.Extra,
	); err != nil {
		return promo.ProductFeatures{}, err
	}

	var err error
	if p.CurrentPrice, err = parseNullDecimal(currentStr); err != nil {
		return promo.ProductFeatures{}, fmt.Errorf("parse current price of %s: %w", p.ID, err)
	}
	if p.CompetitorPrice, err = parseNullDecimal(competitorStr); err != nil {
		return promo.ProductFeatures{}, fmt.Errorf("parse competitor price of %s: %w", p.ID, err)
	}
	if len(p.Extra) == 0 {
		p.Extra = nil
	}
	return p, nil
}

func scanRecommendation(rows pgx.Rows) (promo.Recommendation, error) {
	var (
		rec         promo.Recommendation
		arm         string
		discountStr string
		start, end  *time.Time
	)
	if err := rows.Scan(
		&rec.ProductID,
		&rec.SKU,
		&rec.Name,
		&rec.Category,
		&arm,
		&discountStr,
		&rec.EstimatedUplift,
		&rec.UrgencyScore,
		&rec.LowSupport,
		&rec.Event,
		&start,
		&end,
	); err != nil {
		return promo.Recommendation{}, err
	}

	discount, err := decimal.NewFromString(discountStr)
	if err != nil {
		return promo.Recommendation{}, fmt.Errorf("parse discount: %w", err)
	}
	rec.Arm = promo.Arm(arm)
	rec.Discount = discount
	if start != nil {
		rec.StartDate = *start
	}
	if end != nil {
		rec.EndDate = *end
	}
	return rec, nil
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullableDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var (
	_ ProductStore     = (*Store)(nil)
	_ ObservationStore = (*Store)(nil)
	_ RunStore         = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
