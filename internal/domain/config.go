package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scorers     ScorersConfig     `mapstructure:"scorers"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Cache       CacheConfig       `mapstructure:"cache"`
	ReportStore ReportStoreConfig `mapstructure:"report_store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents PostgreSQL connection configuration for the
// risk-profile repository and the postgres report store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ScorersConfig groups the three out-of-process modality scorer services.
type ScorersConfig struct {
	Image ScorerConfig `mapstructure:"image"`
	Audio ScorerConfig `mapstructure:"audio"`
	EHR   ScorerConfig `mapstructure:"ehr"`
}

// ScorerConfig represents one modality scorer service endpoint. Timeout bounds
// the adapter call; a timed-out call downgrades to a missing-modality signal.
type ScorerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// ForModality returns the scorer configuration for a modality.
func (sc *ScorersConfig) ForModality(m Modality) ScorerConfig {
	switch m {
	case IMAGE:
		return sc.Image
	case AUDIO:
		return sc.Audio
	default:
		return sc.EHR
	}
}

// PipelineConfig holds the fusion and scoring tunables. None of these are
// hardcoded inside the fusion or scoring logic.
type PipelineConfig struct {
	ConflictThreshold float64            `mapstructure:"conflict_threshold"`
	TierThresholds    TierThresholds     `mapstructure:"tier_thresholds"`
	NormalClass       string             `mapstructure:"normal_class"`
	RiskFactorWeights map[string]float64 `mapstructure:"risk_factor_weights"`
}

// TierThresholds are the lower bounds of the MODERATE, HIGH and CRITICAL
// tiers. Scores below Moderate map to LOW; boundaries are closed on the left.
type TierThresholds struct {
	Moderate float64 `mapstructure:"moderate"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

// CalibrationConfig holds per-modality calibration temperatures learned
// offline. Loaded at process start; replaced only via explicit recalibration.
type CalibrationConfig struct {
	ImageTemperature float64 `mapstructure:"image_temperature"`
	AudioTemperature float64 `mapstructure:"audio_temperature"`
	EHRTemperature   float64 `mapstructure:"ehr_temperature"`
}

// CacheConfig represents the scorer response cache configuration.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MemorySize  int           `mapstructure:"memory_size"`
}

// ReportStoreConfig selects and configures the diagnostic report store.
type ReportStoreConfig struct {
	Driver     string `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
