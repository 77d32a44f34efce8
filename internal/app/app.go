package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"promo-planner/internal/alerting"
	"promo-planner/internal/config"
	"promo-planner/internal/metrics"
	"promo-planner/internal/pricefeed"
	"promo-planner/internal/scheduler"
	"promo-planner/internal/service"
	"promo-planner/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPriceFeed() pricefeed.PriceFetcher {
	if !a.Config.PriceFeed.Enabled {
		return nil
	}
	cfg := a.Config.PriceFeed
	return pricefeed.New(pricefeed.Options{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		BatchSize: cfg.BatchSize,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}

	if a.Config.Database.AutoMigrate {
		applied, err := store.Migrate(ctx, a.Config.Database.MigrationsPath)
		if err != nil {
			closer()
			return nil, nil, err
		}
		a.Logger.Debug().Strs("migrations", applied).Msg("schema migrations applied")
	}
	return store, closer, nil
}

func (a *App) newSource(store *storage.Store) (service.Source, error) {
	switch a.Config.Input.Source {
	case config.SourceDatabase:
		if store == nil {
			return nil, errors.New("input.source=database requires database.dsn")
		}
		return service.StoreSource{Store: store}, nil
	default:
		return service.CSVSource{
			ProductsPath:     a.Config.Input.ProductsPath,
			ObservationsPath: a.Config.Input.ObservationsPath,
		}, nil
	}
}

// newService wires the planning service. Runs are persisted only when persist is set and a
// store is available.
func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, persist, notify bool) (*service.Service, error) {
	source, err := a.newSource(store)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Scheduler: sched,
		Source:    source,
		Prices:    a.newPriceFeed(),
	}
	if persist && store != nil {
		deps.Runs = store
	}
	if notify {
		deps.Notifier = a.newNotifier()
	}
	return service.New(a.Config, deps, a.Logger), nil
}

// Run executes the long-running regeneration service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.Init()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if a.Config.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)

	svc, err := a.newService(store, sched, true, a.Config.Alerting.Enabled)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting planning service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("planning service stopped")
	return nil
}

// RecommendOptions configure a one-shot planning run.
type RecommendOptions struct {
	AsOf time.Time
	// Slots overrides budget.total_slots when set.
	Slots    *int
	Limit    int
	CSVPath  string
	JSONPath string
	PNGPath  string
	Persist  bool
	Notify   bool
}

// ExportOptions select a persisted run and the artifacts to write.
type ExportOptions struct {
	RunID    string
	CSVPath  string
	JSONPath string
	PNGPath  string
	MaxBars  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	RunID string
	Limit int
	List  bool
}

// ImportOptions name the CSV files to load into PostgreSQL.
type ImportOptions struct {
	ProductsPath     string
	ObservationsPath string
}

// BackfillOptions replay planning runs over past reference dates.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	Step   time.Duration
	DryRun bool
}

// SimulateOptions describe a hand-entered product for simulate-discount.
type SimulateOptions struct {
	Arm             string
	CurrentPrice    float64
	CompetitorPrice float64
	DaysToExpiry    int
	HasExpiry       bool
	Category        string
	AsOf            time.Time
}

func (o RecommendOptions) validate() error {
	if o.Limit < 0 {
		return fmt.Errorf("--limit cannot be negative")
	}
	return nil
}
