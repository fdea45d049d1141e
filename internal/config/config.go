// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Geocode  GeocodeConfig  `yaml:"geocode" mapstructure:"geocode"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Layers   LayersConfig   `yaml:"layers" mapstructure:"layers"`
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Overlap  OverlapConfig  `yaml:"overlap" mapstructure:"overlap"`
	Score    ScoreConfig    `yaml:"score" mapstructure:"score"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Review   ReviewConfig   `yaml:"review" mapstructure:"review"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local SQLite store used for cache persistence
// and batch checkpoints.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the optional PostGIS-backed geometry source and
// TIGER geocode provider.
type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeocodeConfig configures the geocoder chain.
type GeocodeConfig struct {
	Chain           []string `yaml:"chain" mapstructure:"chain"`
	GoogleAPIKey    string   `yaml:"google_api_key" mapstructure:"google_api_key"`
	CensusRPS       float64  `yaml:"census_rps" mapstructure:"census_rps"`
	TigerMaxRating  int      `yaml:"tiger_max_rating" mapstructure:"tiger_max_rating"`
	BatchChunkSize  int      `yaml:"batch_chunk_size" mapstructure:"batch_chunk_size"`
	BatchRetries    int      `yaml:"batch_retries" mapstructure:"batch_retries"`
	ChunkTimeoutSec int      `yaml:"chunk_timeout_secs" mapstructure:"chunk_timeout_secs"`
	SuccessTTLHours int      `yaml:"success_ttl_hours" mapstructure:"success_ttl_hours"`
	FailureTTLHours int      `yaml:"failure_ttl_hours" mapstructure:"failure_ttl_hours"`
}

// RegistryConfig locates the canonical provider registry and blocklist.
type RegistryConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	BlocklistPath string `yaml:"blocklist_path" mapstructure:"blocklist_path"`
}

// LayersConfig configures the polygon layer directory and its remote mirror.
type LayersConfig struct {
	Dir       string            `yaml:"dir" mapstructure:"dir"`
	Files     map[string]string `yaml:"files" mapstructure:"files"` // utility type -> shapefile basename
	MirrorURL string            `yaml:"mirror_url" mapstructure:"mirror_url"`
}

// SourcesConfig configures the candidate collector and its source adapters.
type SourcesConfig struct {
	Tiers              map[string]float64 `yaml:"tiers" mapstructure:"tiers"` // source name -> base confidence
	TimeoutSecs        int                `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TypeDeadlineSecs   int                `yaml:"type_deadline_secs" mapstructure:"type_deadline_secs"`
	PoolSize           int                `yaml:"pool_size" mapstructure:"pool_size"`
	EarlyExitThreshold float64            `yaml:"early_exit_threshold" mapstructure:"early_exit_threshold"`
	BreakerThreshold   int                `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSec int                `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	ZipTablePath       string             `yaml:"zip_table_path" mapstructure:"zip_table_path"`
	CountyTablePath    string             `yaml:"county_table_path" mapstructure:"county_table_path"`
	OverridesPath      string             `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// SourceTimeout returns the per-source query timeout.
func (c SourcesConfig) SourceTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TypeDeadline returns the global per-utility-type collection deadline.
func (c SourcesConfig) TypeDeadline() time.Duration {
	return time.Duration(c.TypeDeadlineSecs) * time.Second
}

// OverlapConfig locates the declarative overlap policy table.
type OverlapConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// ScoreConfig holds the confidence scorer tuning knobs. These were tuned
// against a held-out address sample; validate against the regression address
// set before changing them.
type ScoreConfig struct {
	PrecisionPointBonus   float64 `yaml:"precision_point_bonus" mapstructure:"precision_point_bonus"`
	PrecisionZipBonus     float64 `yaml:"precision_zip_bonus" mapstructure:"precision_zip_bonus"`
	PrecisionCountyBonus  float64 `yaml:"precision_county_bonus" mapstructure:"precision_county_bonus"`
	AgreementBonus        float64 `yaml:"agreement_bonus" mapstructure:"agreement_bonus"`
	AgreementCap          float64 `yaml:"agreement_cap" mapstructure:"agreement_cap"`
	AgreementMinTier      float64 `yaml:"agreement_min_tier" mapstructure:"agreement_min_tier"`
	ReliabilityPenalty    float64 `yaml:"reliability_penalty" mapstructure:"reliability_penalty"`
	ReliabilityExemptTier float64 `yaml:"reliability_exempt_tier" mapstructure:"reliability_exempt_tier"`
	StaleAfterDays        int     `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	StalenessPenalty      float64 `yaml:"staleness_penalty" mapstructure:"staleness_penalty"`
	ReviewCutoff          int     `yaml:"review_cutoff" mapstructure:"review_cutoff"`
	RegionalPath          string  `yaml:"regional_path" mapstructure:"regional_path"`
}

// CatalogConfig locates the external identifier catalog and its overrides.
type CatalogConfig struct {
	Path          string  `yaml:"path" mapstructure:"path"`
	OverridesPath string  `yaml:"overrides_path" mapstructure:"overrides_path"`
	StrictCutoff  float64 `yaml:"strict_cutoff" mapstructure:"strict_cutoff"`
	LooseCutoff   float64 `yaml:"loose_cutoff" mapstructure:"loose_cutoff"`
}

// CacheConfig configures the lookup result cache.
type CacheConfig struct {
	SuccessTTLHours int  `yaml:"success_ttl_hours" mapstructure:"success_ttl_hours"`
	FailureTTLMins  int  `yaml:"failure_ttl_mins" mapstructure:"failure_ttl_mins"`
	Persist         bool `yaml:"persist" mapstructure:"persist"`
	MaxEntries      int  `yaml:"max_entries" mapstructure:"max_entries"`
}

// SuccessTTL returns the retention for successful lookups.
func (c CacheConfig) SuccessTTL() time.Duration {
	return time.Duration(c.SuccessTTLHours) * time.Hour
}

// FailureTTL returns the (shorter) retention for failed lookups.
func (c CacheConfig) FailureTTL() time.Duration {
	return time.Duration(c.FailureTTLMins) * time.Minute
}

// BatchConfig configures batch lookup runs.
type BatchConfig struct {
	PoolSize           int `yaml:"pool_size" mapstructure:"pool_size"`
	CheckpointInterval int `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

// ReviewConfig configures the offline review suggester. The suggester never
// participates in live lookups; its output feeds the correction-override
// table as data.
type ReviewConfig struct {
	AnthropicKey string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxRecords   int    `yaml:"max_records" mapstructure:"max_records"`
}

// AuditConfig configures the per-lookup audit trail.
type AuditConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.path", "resolve.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("geocode.chain", []string{"census", "tiger", "google"})
	v.SetDefault("geocode.census_rps", 50)
	v.SetDefault("geocode.tiger_max_rating", 20)
	v.SetDefault("geocode.batch_chunk_size", 500)
	v.SetDefault("geocode.batch_retries", 3)
	v.SetDefault("geocode.chunk_timeout_secs", 120)
	v.SetDefault("geocode.success_ttl_hours", 24*30)
	v.SetDefault("geocode.failure_ttl_hours", 6)

	v.SetDefault("registry.path", "data/registry.yaml")
	v.SetDefault("registry.blocklist_path", "data/blocklist.yaml")

	v.SetDefault("layers.dir", "data/layers")
	v.SetDefault("layers.mirror_url", "ftp://ftp2.census.gov/geo/tiger/TIGER2024")

	v.SetDefault("sources.tiers", map[string]float64{
		"override":    99,
		"layers":      88,
		"postgis":     85,
		"ziptable":    65,
		"countytable": 50,
	})
	v.SetDefault("sources.timeout_secs", 5)
	v.SetDefault("sources.type_deadline_secs", 10)
	v.SetDefault("sources.pool_size", 4)
	v.SetDefault("sources.early_exit_threshold", 97)
	v.SetDefault("sources.breaker_threshold", 5)
	v.SetDefault("sources.breaker_cooldown_secs", 60)
	v.SetDefault("sources.zip_table_path", "data/zip_providers.yaml")
	v.SetDefault("sources.county_table_path", "data/county_providers.yaml")
	v.SetDefault("sources.overrides_path", "data/overrides.yaml")

	v.SetDefault("overlap.policy_path", "data/overlap_policy.yaml")

	v.SetDefault("score.precision_point_bonus", 6)
	v.SetDefault("score.precision_zip_bonus", 3)
	v.SetDefault("score.precision_county_bonus", 1)
	v.SetDefault("score.agreement_bonus", 3)
	v.SetDefault("score.agreement_cap", 9)
	v.SetDefault("score.agreement_min_tier", 60)
	v.SetDefault("score.reliability_penalty", 8)
	v.SetDefault("score.reliability_exempt_tier", 95)
	v.SetDefault("score.stale_after_days", 540)
	v.SetDefault("score.staleness_penalty", 5)
	v.SetDefault("score.review_cutoff", 70)

	v.SetDefault("catalog.path", "data/catalog.yaml")
	v.SetDefault("catalog.overrides_path", "data/catalog_overrides.yaml")
	v.SetDefault("catalog.strict_cutoff", 0.90)
	v.SetDefault("catalog.loose_cutoff", 0.80)

	v.SetDefault("cache.success_ttl_hours", 24*7)
	v.SetDefault("cache.failure_ttl_mins", 30)
	v.SetDefault("cache.persist", true)
	v.SetDefault("cache.max_entries", 100_000)

	v.SetDefault("batch.pool_size", 16)
	v.SetDefault("batch.checkpoint_interval", 100)

	v.SetDefault("review.model", "claude-haiku-4-5-20251001")
	v.SetDefault("review.max_records", 50)

	v.SetDefault("audit.dir", "audit")

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
