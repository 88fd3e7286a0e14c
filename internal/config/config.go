// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/isbn-scraper/internal/antibot"
	"github.com/JakeFAU/isbn-scraper/internal/cache"
	headlessfetcher "github.com/JakeFAU/isbn-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/isbn-scraper/internal/health"
	"github.com/JakeFAU/isbn-scraper/internal/logging"
	"github.com/JakeFAU/isbn-scraper/internal/orchestrator"
	"github.com/JakeFAU/isbn-scraper/internal/progress"
	"github.com/JakeFAU/isbn-scraper/internal/retry"
	"github.com/JakeFAU/isbn-scraper/internal/storage"
	gcsstorage "github.com/JakeFAU/isbn-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/isbn-scraper/internal/storage/local"
	pgstore "github.com/JakeFAU/isbn-scraper/internal/storage/postgres"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
	"github.com/JakeFAU/isbn-scraper/internal/telemetry"
)

// Storage backends for run exports.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	Auth         AuthConfig             `mapstructure:"auth"`
	Orchestrator orchestrator.Config    `mapstructure:"orchestrator"`
	Health       health.Config          `mapstructure:"health"`
	Retry        retry.Config           `mapstructure:"retry"`
	Tabs         tabs.Config            `mapstructure:"tabs"`
	Browser      headlessfetcher.Config `mapstructure:"browser"`
	AntiBot      antibot.Config         `mapstructure:"antibot"`
	API          APIConfig              `mapstructure:"api"`
	Resources    ResourcesConfig        `mapstructure:"resources"`
	Cache        cache.Config           `mapstructure:"cache"`
	Progress     ProgressConfig         `mapstructure:"progress"`
	Storage      StorageConfig          `mapstructure:"storage"`
	Database     DatabaseConfig         `mapstructure:"database"`
	PubSub       PubSubConfig           `mapstructure:"pubsub"`
	Logging      logging.Config         `mapstructure:"logging"`
	Telemetry    telemetry.Config       `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeout bounds every request, including synchronous scrapes.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxISBNs caps the batch size accepted by POST /v1/scrape.
	MaxISBNs int `mapstructure:"max_isbns"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// APIConfig configures the HTTP fetcher used for JSON API resources.
type APIConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// RPS and Burst apply to resources that do not set their own rps.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ResourcesConfig points at an optional YAML registry replacing the built-in one.
type ResourcesConfig struct {
	File string `mapstructure:"file"`
}

// ProgressConfig selects the progress sinks and tunes the hub.
type ProgressConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Log        bool            `mapstructure:"log"`
	Prometheus bool            `mapstructure:"prometheus"`
	Hub        progress.Config `mapstructure:"hub"`
}

// StorageConfig sets where run exports are written.
type StorageConfig struct {
	Backend string               `mapstructure:"backend"`
	Export  storage.ExportConfig `mapstructure:"export"`
	Local   localstorage.Config  `mapstructure:"local"`
	GCS     gcsstorage.Config    `mapstructure:"gcs"`
}

// DatabaseConfig controls access to Postgres. An empty DSN disables it.
type DatabaseConfig struct {
	pgstore.Config `mapstructure:",squash"`
	// Migrate applies the embedded schema at startup.
	Migrate bool `mapstructure:"migrate"`
}

// PubSubConfig holds the topic found records are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ISBN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_isbns", 500)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	orch := orchestrator.DefaultConfig()
	v.SetDefault("orchestrator.max_concurrent_tasks", orch.MaxConcurrentTasks)
	v.SetDefault("orchestrator.max_trials", orch.MaxTrials)
	v.SetDefault("orchestrator.queue", orch.Queue)
	v.SetDefault("orchestrator.acquire_poll_interval", orch.AcquirePollInterval)
	v.SetDefault("orchestrator.sink_timeout", orch.SinkTimeout)

	hc := health.DefaultConfig()
	v.SetDefault("health.error_threshold", hc.ErrorThreshold)
	v.SetDefault("health.recovery_cooldown", hc.RecoveryCooldown)
	v.SetDefault("health.selection", string(hc.Selection))

	rc := retry.DefaultConfig()
	setPolicyDefaults(v, "retry.default", rc.Default)
	for cat, p := range rc.Categories {
		setPolicyDefaults(v, "retry.categories."+string(cat), p)
	}
	v.SetDefault("retry.operation_timeout", rc.OperationTimeout)
	v.SetDefault("retry.min_delay", rc.MinDelay)
	v.SetDefault("retry.breaker_threshold", rc.BreakerThreshold)
	v.SetDefault("retry.breaker_reset", rc.BreakerReset)

	tc := tabs.DefaultConfig()
	v.SetDefault("tabs.max_tabs", tc.MaxTabs)
	v.SetDefault("tabs.monitor_interval", tc.MonitorInterval)
	v.SetDefault("tabs.stuck_timeout", tc.StuckTimeout)
	v.SetDefault("tabs.load_warning_threshold", tc.LoadWarningThreshold)
	v.SetDefault("tabs.recovery_timeout", tc.RecoveryTimeout)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle_delay", "2s")

	ab := antibot.DefaultConfig()
	v.SetDefault("antibot.user_agents", ab.UserAgents)
	v.SetDefault("antibot.min_delay", ab.MinDelay)
	v.SetDefault("antibot.max_delay", ab.MaxDelay)

	v.SetDefault("api.timeout", "15s")
	v.SetDefault("api.user_agent", "")
	v.SetDefault("api.rps", 2.0)
	v.SetDefault("api.burst", 1)

	v.SetDefault("resources.file", "")

	cc := cache.DefaultConfig()
	v.SetDefault("cache.size", cc.Size)
	v.SetDefault("cache.ttl", cc.TTL)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log", true)
	v.SetDefault("progress.prometheus", true)
	v.SetDefault("progress.hub.buffer_size", 4096)
	v.SetDefault("progress.hub.max_batch_events", 500)
	v.SetDefault("progress.hub.max_batch_wait", "500ms")
	v.SetDefault("progress.hub.sink_timeout", "10s")

	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.export.prefix", "exports")
	v.SetDefault("storage.export.format", storage.FormatJSON)
	v.SetDefault("storage.local.base_dir", "data/exports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.cache_control", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.results_table", "book_results")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", false)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "isbn-scraper")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

func setPolicyDefaults(v *viper.Viper, prefix string, p retry.Policy) {
	v.SetDefault(prefix+".max_retries", p.MaxRetries)
	v.SetDefault(prefix+".base_delay", p.BaseDelay)
	v.SetDefault(prefix+".max_delay", p.MaxDelay)
	v.SetDefault(prefix+".growth_factor", p.GrowthFactor)
	v.SetDefault(prefix+".jitter", p.Jitter)
	v.SetDefault(prefix+".retryable", p.Retryable)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxISBNs <= 0 {
		return fmt.Errorf("server.max_isbns must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if c.Health.ErrorThreshold <= 0 {
		return fmt.Errorf("health.error_threshold must be > 0")
	}
	switch c.Health.Selection {
	case health.SelectWeighted, health.SelectOrdered:
	default:
		return fmt.Errorf("health.selection must be %q or %q", health.SelectWeighted, health.SelectOrdered)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Tabs.Validate(); err != nil {
		return err
	}
	if c.AntiBot.MinDelay < 0 || c.AntiBot.MaxDelay < c.AntiBot.MinDelay {
		return fmt.Errorf("antibot delays must satisfy 0 <= min_delay <= max_delay")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.Cache.Size > 0 && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	return c.validateOutputs()
}

func (c Config) validateOutputs() error {
	switch c.Storage.Backend {
	case "", BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Storage.Export.Format {
	case "", storage.FormatJSON, storage.FormatYAML:
	default:
		return fmt.Errorf("storage.export.format must be json or yaml")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Database.Migrate && c.Database.DSN == "" {
		return fmt.Errorf("database.migrate requires database.dsn")
	}
	return nil
}
