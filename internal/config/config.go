package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"promo-planner/internal/allocation"
	"promo-planner/internal/calendar"
	"promo-planner/internal/logging"
	"promo-planner/internal/uplift"
	"promo-planner/internal/urgency"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Input      InputConfig       `mapstructure:"input"`
	Budget     BudgetConfig      `mapstructure:"budget"`
	Urgency    urgency.Config    `mapstructure:"urgency"`
	Uplift     uplift.Config     `mapstructure:"uplift"`
	Allocation allocation.Config `mapstructure:"allocation"`
	Calendar   calendar.Config   `mapstructure:"calendar"`
	PriceFeed  PriceFeedConfig   `mapstructure:"pricefeed"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Export     ExportConfig      `mapstructure:"export"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs regeneration cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Retention       time.Duration `mapstructure:"retention"`
}

// Input sources.
const (
	SourceCSV      = "csv"
	SourceDatabase = "database"
)

// InputConfig selects where products and observations come from.
type InputConfig struct {
	Source           string `mapstructure:"source"`
	ProductsPath     string `mapstructure:"products_path"`
	ObservationsPath string `mapstructure:"observations_path"`
}

// BudgetConfig bounds how many products may be promoted per run.
type BudgetConfig struct {
	TotalSlots          int            `mapstructure:"total_slots"`
	CategoryLimits      map[string]int `mapstructure:"category_limits"`
	CandidateMultiplier int            `mapstructure:"candidate_multiplier"`
}

// PriceFeedConfig covers the competitor price service.
type PriceFeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// AlertingConfig defines run summary routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	TopN     int            `mapstructure:"top_n"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets artifact export behaviour.
type ExportConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxBars   int    `mapstructure:"max_bars"`
	ChartPNG  bool   `mapstructure:"chart_png"`
	WriteJSON bool   `mapstructure:"write_json"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PROMOPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Allocation.Rules = mergeRules(allocation.DefaultRules(), cfg.Allocation.Rules)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "promo-planner")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726f6d))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.retention", "0s")

	v.SetDefault("input.source", SourceCSV)
	v.SetDefault("input.products_path", "data/products.csv")
	v.SetDefault("input.observations_path", "data/observations.csv")

	v.SetDefault("budget.total_slots", 1000)
	v.SetDefault("budget.candidate_multiplier", 1)

	urg := urgency.DefaultConfig()
	v.SetDefault("urgency.weights.expiry", urg.Weights.Expiry)
	v.SetDefault("urgency.weights.lag", urg.Weights.Lag)
	v.SetDefault("urgency.weights.volume", urg.Weights.Volume)
	v.SetDefault("urgency.min_score", urg.MinScore)

	up := uplift.DefaultConfig()
	v.SetDefault("uplift.features", up.Features)
	v.SetDefault("uplift.min_samples", up.MinSamples)
	v.SetDefault("uplift.no_expiry_days", up.NoExpiryDays)
	v.SetDefault("uplift.no_sale_days", up.NoSaleDays)
	v.SetDefault("uplift.control", string(up.Control))
	v.SetDefault("uplift.workers", 0)
	v.SetDefault("uplift.ridge_lambda", up.Ridge)

	alloc := allocation.DefaultConfig()
	v.SetDefault("allocation.low_support_weight", alloc.LowSupportWeight)
	v.SetDefault("allocation.min_uplift", alloc.MinUplift)
	v.SetDefault("allocation.include_no_discount", alloc.IncludeNoDiscount)
	v.SetDefault("allocation.round_step", alloc.RoundStep)
	v.SetDefault("allocation.control", string(alloc.Control))
	v.SetDefault("allocation.event_fallback.enabled", alloc.EventFallback.Enabled)
	v.SetDefault("allocation.event_fallback.clearance_days", alloc.EventFallback.ClearanceDays)

	cal := calendar.DefaultConfig()
	v.SetDefault("calendar.lead_days", cal.LeadDays)
	v.SetDefault("calendar.promo_days", cal.PromoDays)
	v.SetDefault("calendar.standard_offset_days", cal.StandardOffset)
	v.SetDefault("calendar.event_lead_days", cal.EventLeadDays)
	v.SetDefault("calendar.event_days", cal.EventDays)
	v.SetDefault("calendar.horizon_days", cal.HorizonDays)
	v.SetDefault("calendar.weekday", cal.Weekday)

	v.SetDefault("pricefeed.enabled", false)
	v.SetDefault("pricefeed.request_timeout", "10s")
	v.SetDefault("pricefeed.user_agent", "promo-planner/1.0")
	v.SetDefault("pricefeed.batch_size", 200)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.top_n", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.dir", "output")
	v.SetDefault("export.max_bars", 20)
	v.SetDefault("export.chart_png", true)
	v.SetDefault("export.write_json", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.DateOnly),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// mergeRules overlays configured rules on the defaults. Arm names compare case-insensitively.
func mergeRules(defaults, configured map[string]allocation.Rule) map[string]allocation.Rule {
	out := make(map[string]allocation.Rule, len(defaults)+len(configured))
	for name, rule := range defaults {
		out[name] = rule
	}
	for name, rule := range configured {
		for existing := range out {
			if strings.EqualFold(existing, name) {
				delete(out, existing)
			}
		}
		out[name] = rule
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Budget.TotalSlots < 0 {
		return fmt.Errorf("budget.total_slots cannot be negative")
	}
	for category, limit := range c.Budget.CategoryLimits {
		if limit < 0 {
			return fmt.Errorf("budget.category_limits.%s cannot be negative", category)
		}
	}
	if c.Budget.CandidateMultiplier < 1 {
		return fmt.Errorf("budget.candidate_multiplier must be at least 1")
	}
	w := c.Urgency.Weights
	if w.Expiry == 0 && w.Lag == 0 && w.Volume == 0 {
		return fmt.Errorf("urgency.weights must not all be zero")
	}
	if c.Urgency.MinScore < 0 || c.Urgency.MinScore > urgency.MaxScore {
		return fmt.Errorf("urgency.min_score must be within [0, 100]")
	}
	if c.Uplift.MinSamples <= 0 {
		return fmt.Errorf("uplift.min_samples must be greater than zero")
	}
	if len(c.Uplift.Features) == 0 {
		return fmt.Errorf("uplift.features must not be empty")
	}
	if c.Uplift.NoExpiryDays < 0 || c.Uplift.NoSaleDays < 0 {
		return fmt.Errorf("uplift imputation days cannot be negative")
	}
	if c.Uplift.Ridge < 0 {
		return fmt.Errorf("uplift.ridge_lambda cannot be negative")
	}
	if err := c.Allocation.Validate(); err != nil {
		return err
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Input.Source {
	case SourceCSV, SourceDatabase:
	default:
		return fmt.Errorf("input.source must be %q or %q", SourceCSV, SourceDatabase)
	}
	if c.Input.Source == SourceDatabase && c.Database.DSN == "" {
		return fmt.Errorf("input.source=database requires database.dsn")
	}
	if c.PriceFeed.Enabled && c.PriceFeed.BaseURL == "" {
		return fmt.Errorf("pricefeed.base_url is required when the price feed is enabled")
	}
	if c.Export.MaxBars <= 0 {
		return fmt.Errorf("export.max_bars must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveSlots returns either the CLI override or the configured slot budget.
func (c *Config) ResolveSlots(override int) int {
	if override > 0 {
		return override
	}
	return c.Budget.TotalSlots
}
