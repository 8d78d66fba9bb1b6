// Package config loads settings from config.yaml and SKU_-prefixed
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sku-lookup/internal/pricing"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Category   CategoryConfig   `yaml:"category" mapstructure:"category"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the shared cache database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResolverConfig configures barcode resolution.
type ResolverConfig struct {
	DeadlineSecs     int `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	MaxBatchLookups  int `yaml:"max_batch_lookups" mapstructure:"max_batch_lookups"`
	BatchConcurrency int `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// Deadline returns the resolution deadline as a duration.
func (c ResolverConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSecs) * time.Second
}

// WriteTimeout returns the contribution timeout as a duration.
func (c ResolverConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecs) * time.Second
}

// SourcesConfig configures the external catalogs.
type SourcesConfig struct {
	UserAgent string       `yaml:"user_agent" mapstructure:"user_agent"`
	Spider    SourceConfig `yaml:"spider" mapstructure:"spider"`
	OpenFacts SourceConfig `yaml:"openfacts" mapstructure:"openfacts"`
	GenericDB SourceConfig `yaml:"genericdb" mapstructure:"genericdb"`
}

// SourceConfig configures one external catalog.
type SourceConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the per-request timeout as a duration.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ResilienceConfig configures write retries and source circuit breakers.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxReplays       int `yaml:"max_replays" mapstructure:"max_replays"`
}

// CategoryConfig points at an optional brand table override.
type CategoryConfig struct {
	BrandsFile string `yaml:"brands_file" mapstructure:"brands_file"`
}

// PricingConfig overrides the suggested price margin table.
type PricingConfig struct {
	DefaultMargin float64        `yaml:"default_margin" mapstructure:"default_margin"`
	Margins       []pricing.Margin `yaml:"margins" mapstructure:"margins"`
}

// ImportConfig configures bulk imports.
type ImportConfig struct {
	DelayMs int `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background health checker run by serve.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	DLQThreshold      int    `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
	ReplayLimit       int    `yaml:"replay_limit" mapstructure:"replay_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SKU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sku-lookup.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("resolver.deadline_secs", 15)
	v.SetDefault("resolver.max_batch_lookups", 100)
	v.SetDefault("resolver.batch_concurrency", 4)
	v.SetDefault("resolver.write_timeout_secs", 10)
	v.SetDefault("sources.user_agent", "OroPOS/1.0 (contact@oronex.com)")
	v.SetDefault("sources.spider.enabled", true)
	v.SetDefault("sources.spider.api_key", "")
	v.SetDefault("sources.spider.base_url", "https://api.barcodespider.com")
	v.SetDefault("sources.spider.timeout_secs", 5)
	v.SetDefault("sources.spider.rate_per_sec", 2)
	v.SetDefault("sources.openfacts.enabled", true)
	v.SetDefault("sources.openfacts.api_key", "")
	v.SetDefault("sources.openfacts.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("sources.openfacts.timeout_secs", 5)
	v.SetDefault("sources.openfacts.rate_per_sec", 5)
	v.SetDefault("sources.genericdb.enabled", true)
	v.SetDefault("sources.genericdb.api_key", "")
	v.SetDefault("sources.genericdb.base_url", "https://api.upcitemdb.com")
	v.SetDefault("sources.genericdb.timeout_secs", 5)
	v.SetDefault("sources.genericdb.rate_per_sec", 1)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_reset_secs", 30)
	v.SetDefault("resilience.max_replays", 5)
	v.SetDefault("category.brands_file", "")
	v.SetDefault("pricing.default_margin", 0.30)
	v.SetDefault("import.delay_ms", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.dlq_threshold", 50)
	v.SetDefault("monitoring.replay_limit", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, `store.driver must be "sqlite" or "postgres"`)
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateResolver()...)
		if c.Monitoring.Enabled && c.Monitoring.CheckIntervalSecs <= 0 {
			errs = append(errs, "monitoring.check_interval_secs must be > 0")
		}
	case "lookup", "import":
		errs = append(errs, c.validateResolver()...)
		if c.Import.DelayMs < 0 {
			errs = append(errs, "import.delay_ms must be >= 0")
		}
	case "migrate", "seed", "replay", "price":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateResolver() []string {
	var errs []string
	if c.Resolver.DeadlineSecs <= 0 {
		errs = append(errs, "resolver.deadline_secs must be > 0")
	}
	if c.Resolver.WriteTimeoutSecs <= 0 {
		errs = append(errs, "resolver.write_timeout_secs must be > 0")
	}
	if c.Resolver.BatchConcurrency < 1 || c.Resolver.BatchConcurrency > 32 {
		errs = append(errs, "resolver.batch_concurrency must be between 1 and 32")
	}
	if c.Resolver.MaxBatchLookups < 1 {
		errs = append(errs, "resolver.max_batch_lookups must be > 0")
	}
	for name, s := range map[string]SourceConfig{
		"spider":    c.Sources.Spider,
		"openfacts": c.Sources.OpenFacts,
		"genericdb": c.Sources.GenericDB,
	} {
		if !s.Enabled {
			continue
		}
		if s.TimeoutSecs <= 0 {
			errs = append(errs, "sources."+name+".timeout_secs must be > 0")
		}
		if s.TimeoutSecs > c.Resolver.DeadlineSecs {
			errs = append(errs, "sources."+name+".timeout_secs must not exceed resolver.deadline_secs")
		}
		if s.RatePerSec < 0 {
			errs = append(errs, "sources."+name+".rate_per_sec must be >= 0")
		}
	}
	for _, m := range c.Pricing.Margins {
		if m.Target <= 0 || m.Target >= 1 {
			errs = append(errs, "pricing.margins["+m.Key+"] target must be between 0 and 1")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
