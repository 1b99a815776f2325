package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration. It is populated once by Load and
// treated as read-only afterwards; components receive the sub-configs they
// need by value.
type Config struct {
	EngineConfig  EngineConfig  `json:"engine"`
	LevelsConfig  LevelsConfig  `json:"levels"`
	ZonesConfig   ZonesConfig   `json:"zones"`
	ScoringConfig ScoringConfig `json:"scoring"`
	RegimeConfig  RegimeConfig  `json:"regime"`
	RiskConfig    RiskConfig    `json:"risk"`
	StoreConfig   StoreConfig   `json:"store"`
	FeedConfig    FeedConfig    `json:"feed"`
	ServerConfig  ServerConfig  `json:"server"`
	VaultConfig   VaultConfig   `json:"vault"`
	LoggingConfig LoggingConfig `json:"logging"`
	MetricsConfig MetricsConfig `json:"metrics"`
}

// EngineConfig controls the per-symbol evaluation loop.
type EngineConfig struct {
	Symbols            []string      `json:"symbols" default:"[\"BTCUSDT\"]" validate:"min=1"`
	EvaluationInterval time.Duration `json:"evaluation_interval" default:"30s" validate:"gt=0"`
	CandleHistory      int           `json:"candle_history" default:"300" validate:"min=50"`
	ATRPeriod          int           `json:"atr_period" default:"14" validate:"min=2"`
}

// LevelsConfig tunes the level detector sources and their collection budget.
type LevelsConfig struct {
	SourceTimeout time.Duration `json:"source_timeout" default:"2s" validate:"gt=0"`
	SMAPeriods    []int         `json:"sma_periods" default:"[20,50,200]"`
	EMAPeriods    []int         `json:"ema_periods" default:"[21,55]"`
	BandPeriod    int           `json:"band_period" default:"20" validate:"min=2"`
	BandStdDev    float64       `json:"band_std_dev" default:"2.0" validate:"gt=0"`
	SwingLookback int           `json:"swing_lookback" default:"5" validate:"min=1"`
	SourceWeights SourceWeights `json:"source_weights"`
}

// SourceWeights are per-source reliability weights carried on every raw level.
type SourceWeights struct {
	MovingAverage float64 `json:"moving_average" default:"0.5" validate:"gt=0"`
	Band          float64 `json:"band" default:"0.5" validate:"gt=0"`
	Pivot         float64 `json:"pivot" default:"0.75" validate:"gt=0"`
	Swing         float64 `json:"swing" default:"1.0" validate:"gt=0"`
	Wall          float64 `json:"wall" default:"1.25" validate:"gt=0"`
}

// ZonesConfig tunes clustering, identity continuity and touch tracking.
type ZonesConfig struct {
	MergeATRFactor       float64  `json:"merge_atr_factor" default:"0.5" validate:"gt=0"`
	MinMergeRadiusPct    float64  `json:"min_merge_radius_pct" default:"0.001" validate:"gt=0"`
	TouchATRFactor       float64  `json:"touch_atr_factor" default:"0.3" validate:"gt=0"`
	TouchHistoryLimit    int      `json:"touch_history_limit" default:"20" validate:"min=1"`
	GraceCycles          int      `json:"grace_cycles" default:"3" validate:"min=0"`
	FollowThroughCandles int      `json:"follow_through_candles" default:"3" validate:"min=1"`
	VolumeLookback       int      `json:"volume_lookback" default:"20" validate:"min=2"`
	MajorTimeframes      []string `json:"major_timeframes" default:"[\"4h\",\"1d\"]"`
	IntermediateTfs      []string `json:"intermediate_timeframes" default:"[\"15m\",\"1h\"]"`
}

// ScoringConfig tunes zone strength scoring and tiering.
type ScoringConfig struct {
	StrongThreshold  float64 `json:"strong_threshold" default:"7.5" validate:"gt=0"`
	MediumThreshold  float64 `json:"medium_threshold" default:"5.0" validate:"gt=0"`
	MinTouchesScored int     `json:"min_touches_scored" default:"2" validate:"min=1"`
}

// RegimeConfig holds the extreme-market thresholds.
type RegimeConfig struct {
	ExtremeMoveThreshold float64 `json:"extreme_move_threshold" default:"0.03" validate:"gt=0"`
	ExtremeVolThreshold  float64 `json:"extreme_vol_threshold" default:"0.03" validate:"gt=0"`
	TrendSMAShort        int     `json:"trend_sma_short" default:"20" validate:"min=2"`
	TrendSMALong         int     `json:"trend_sma_long" default:"50" validate:"min=2"`
}

// RiskConfig holds every tunable of the risk parameter calculator. The hard
// bounds always win over any other arithmetic.
type RiskConfig struct {
	TPBufferPct       float64 `json:"tp_buffer_pct" default:"0.001" validate:"gte=0"`
	SLBufferPct       float64 `json:"sl_buffer_pct" default:"0.002" validate:"gte=0"`
	FallbackTPPct     float64 `json:"fallback_tp_pct" default:"0.03" validate:"gt=0"`
	FallbackSLPct     float64 `json:"fallback_sl_pct" default:"0.02" validate:"gt=0"`
	MinSLPct          float64 `json:"min_sl_pct" default:"0.005" validate:"gt=0"`
	MaxSLPct          float64 `json:"max_sl_pct" default:"0.05" validate:"gt=0"`
	MinTPPct          float64 `json:"min_tp_pct" default:"0.005" validate:"gt=0"`
	MaxTPPct          float64 `json:"max_tp_pct" default:"0.10" validate:"gt=0"`
	MinPositionMult   float64 `json:"min_position_mult" default:"0.1" validate:"gt=0"`
	MaxPositionMult   float64 `json:"max_position_mult" default:"1.0" validate:"gt=0"`
	CounterTrendCap   float64 `json:"counter_trend_cap" default:"0.5" validate:"gt=0"`
	AlignedTPMult     float64 `json:"aligned_tp_mult" default:"2.5" validate:"gt=0"`
	CounterTPMult     float64 `json:"counter_tp_mult" default:"0.7" validate:"gt=0"`
	CounterSLMult     float64 `json:"counter_sl_mult" default:"0.75" validate:"gt=0"`
	CounterPosMult    float64 `json:"counter_pos_mult" default:"0.5" validate:"gt=0"`
	VolatilePosMult   float64 `json:"volatile_pos_mult" default:"0.5" validate:"gt=0"`
	MinRRNormal       float64 `json:"min_rr_normal" default:"1.0" validate:"gte=1"`
	MinRRTrendAligned float64 `json:"min_rr_trend_aligned" default:"1.5" validate:"gte=1"`
}

// StoreConfig selects and tunes the zone-state persistence backend.
type StoreConfig struct {
	Backend       string         `json:"backend" default:"file" validate:"oneof=file redis postgres"`
	FilePath      string         `json:"file_path" default:"data/zone_state.json"`
	BucketPct     float64        `json:"bucket_pct" default:"0.001" validate:"gt=0"`
	FlushInterval time.Duration  `json:"flush_interval" default:"30s" validate:"gt=0"`
	QueueSize     int            `json:"queue_size" default:"256" validate:"min=1"`
	MaxRetries    int            `json:"max_retries" default:"5" validate:"min=0"`
	Redis         RedisConfig    `json:"redis"`
	Postgres      PostgresConfig `json:"postgres"`
}

type RedisConfig struct {
	Addr     string        `json:"addr" default:"localhost:6379"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl" default:"168h"`
}

type PostgresConfig struct {
	Host     string `json:"host" default:"localhost"`
	Port     int    `json:"port" default:"5432"`
	User     string `json:"user" default:"postgres"`
	Password string `json:"password"`
	Database string `json:"database" default:"srzones"`
	SSLMode  string `json:"ssl_mode" default:"disable"`
}

// FeedConfig configures the live market data stream.
type FeedConfig struct {
	WSBaseURL      string        `json:"ws_base_url" default:"wss://stream.binance.com:9443"`
	KlineIntervals []string      `json:"kline_intervals" default:"[\"5m\",\"15m\",\"1h\",\"4h\",\"1d\"]" validate:"min=1"`
	PingInterval   time.Duration `json:"ping_interval" default:"30s" validate:"gt=0"`
	ReconnectMax   time.Duration `json:"reconnect_max" default:"1m" validate:"gt=0"`
	UseVault       bool          `json:"use_vault"`
}

// ServerConfig configures the status/preview HTTP API.
type ServerConfig struct {
	Enabled        bool   `json:"enabled" default:"true"`
	Host           string `json:"host" default:"0.0.0.0"`
	Port           int    `json:"port" default:"8090" validate:"min=1,max=65535"`
	AllowedOrigins string `json:"allowed_origins" default:"*"`
	ProductionMode bool   `json:"production_mode"`
}

// VaultConfig configures the feed-credential secret source.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address" default:"http://localhost:8200"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path" default:"secret"`
	SecretPath string `json:"secret_path" default:"srzone/feed"`
}

type LoggingConfig struct {
	Level  string `json:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `json:"format" default:"json" validate:"oneof=json console"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" default:"true"`
	Path    string `json:"path" default:"/metrics"`
}

// Load builds the configuration: struct defaults first, then config.json if
// present, then environment variable overrides, then validation. The returned
// Config must not be mutated.
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.RiskConfig.MaxSLPct <= cfg.RiskConfig.MinSLPct {
		return nil, fmt.Errorf("validate config: max_sl_pct %.4f must exceed min_sl_pct %.4f",
			cfg.RiskConfig.MaxSLPct, cfg.RiskConfig.MinSLPct)
	}
	if cfg.RiskConfig.MaxTPPct <= cfg.RiskConfig.MinTPPct {
		return nil, fmt.Errorf("validate config: max_tp_pct %.4f must exceed min_tp_pct %.4f",
			cfg.RiskConfig.MaxTPPct, cfg.RiskConfig.MinTPPct)
	}

	return cfg, nil
}

// mergeFromFile overlays values from a JSON config file. A missing file is
// fine; a malformed one is not.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. These take
// precedence over both defaults and the config file.
func applyEnvOverrides(cfg *Config) {
	// Engine
	if symbols := os.Getenv("ENGINE_SYMBOLS"); symbols != "" {
		cfg.EngineConfig.Symbols = splitAndTrim(symbols)
	}
	cfg.EngineConfig.EvaluationInterval = getEnvDurationOrDefault("ENGINE_EVAL_INTERVAL", cfg.EngineConfig.EvaluationInterval)

	// Zone tunables that operators adjust most often
	cfg.ZonesConfig.MergeATRFactor = getEnvFloatOrDefault("ZONES_MERGE_ATR_FACTOR", cfg.ZonesConfig.MergeATRFactor)
	cfg.ZonesConfig.TouchATRFactor = getEnvFloatOrDefault("ZONES_TOUCH_ATR_FACTOR", cfg.ZonesConfig.TouchATRFactor)

	// Store
	cfg.StoreConfig.Backend = getEnvOrDefault("STORE_BACKEND", cfg.StoreConfig.Backend)
	cfg.StoreConfig.FilePath = getEnvOrDefault("STORE_FILE_PATH", cfg.StoreConfig.FilePath)
	cfg.StoreConfig.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.StoreConfig.Redis.Addr)
	cfg.StoreConfig.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.StoreConfig.Redis.Password)
	cfg.StoreConfig.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.StoreConfig.Redis.DB)
	cfg.StoreConfig.Postgres.Host = getEnvOrDefault("POSTGRES_HOST", cfg.StoreConfig.Postgres.Host)
	cfg.StoreConfig.Postgres.Port = getEnvIntOrDefault("POSTGRES_PORT", cfg.StoreConfig.Postgres.Port)
	cfg.StoreConfig.Postgres.User = getEnvOrDefault("POSTGRES_USER", cfg.StoreConfig.Postgres.User)
	cfg.StoreConfig.Postgres.Password = getEnvOrDefault("POSTGRES_PASSWORD", cfg.StoreConfig.Postgres.Password)
	cfg.StoreConfig.Postgres.Database = getEnvOrDefault("POSTGRES_DB", cfg.StoreConfig.Postgres.Database)
	cfg.StoreConfig.Postgres.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", cfg.StoreConfig.Postgres.SSLMode)

	// Feed
	cfg.FeedConfig.WSBaseURL = getEnvOrDefault("FEED_WS_BASE_URL", cfg.FeedConfig.WSBaseURL)
	cfg.FeedConfig.UseVault = getEnvBoolOrDefault("FEED_USE_VAULT", cfg.FeedConfig.UseVault)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Logging / metrics
	cfg.LoggingConfig.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level))
	cfg.LoggingConfig.Format = getEnvOrDefault("LOG_FORMAT", cfg.LoggingConfig.Format)
	cfg.MetricsConfig.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.MetricsConfig.Enabled)
}

// GenerateSampleConfig writes a config file populated with the defaults, as a
// starting point for operators.
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
