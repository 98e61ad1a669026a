package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/medfusion-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/medfusion-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("MEDFUSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.rate_limit", 50.0)
	viper.SetDefault("server.rate_burst", 100)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "medfusion")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.min_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.conn_max_idle_time", "1m")
	viper.SetDefault("database.migrations_path", "migrations")

	// Modality scorer defaults
	viper.SetDefault("scorers.image.base_url", "http://localhost:9101")
	viper.SetDefault("scorers.image.timeout", "2s")
	viper.SetDefault("scorers.image.rate_limit", 20)

	viper.SetDefault("scorers.audio.base_url", "http://localhost:9102")
	viper.SetDefault("scorers.audio.timeout", "2s")
	viper.SetDefault("scorers.audio.rate_limit", 20)

	viper.SetDefault("scorers.ehr.base_url", "http://localhost:9103")
	viper.SetDefault("scorers.ehr.timeout", "2s")
	viper.SetDefault("scorers.ehr.rate_limit", 20)

	// Pipeline defaults
	viper.SetDefault("pipeline.conflict_threshold", 0.4)
	viper.SetDefault("pipeline.tier_thresholds.moderate", 0.25)
	viper.SetDefault("pipeline.tier_thresholds.high", 0.5)
	viper.SetDefault("pipeline.tier_thresholds.critical", 0.8)
	viper.SetDefault("pipeline.normal_class", "NORMAL")
	viper.SetDefault("pipeline.risk_factor_weights", map[string]float64{
		"age_over_65":     0.10,
		"copd":            0.15,
		"smoker":          0.05,
		"immunodeficient": 0.15,
		"diabetes":        0.08,
	})

	// Calibration defaults (identity temperatures until profiles are learned)
	viper.SetDefault("calibration.image_temperature", 1.0)
	viper.SetDefault("calibration.audio_temperature", 1.0)
	viper.SetDefault("calibration.ehr_temperature", 1.0)

	// Cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.memory_size", 1024)

	// Report store defaults
	viper.SetDefault("report_store.driver", "sqlite")
	viper.SetDefault("report_store.sqlite_path", "medfusion_reports.db")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetScorersConfig returns modality scorer configuration
func (m *Manager) GetScorersConfig() *domain.ScorersConfig {
	return &m.config.Scorers
}

// GetPipelineConfig returns pipeline tunables
func (m *Manager) GetPipelineConfig() *domain.PipelineConfig {
	return &m.config.Pipeline
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate scorer endpoints
	for _, modality := range domain.AllModalities {
		sc := config.Scorers.ForModality(modality)
		if sc.BaseURL == "" {
			return fmt.Errorf("%s scorer base URL is required", strings.ToLower(modality.String()))
		}
		if sc.Timeout <= 0 {
			return fmt.Errorf("%s scorer timeout must be positive", strings.ToLower(modality.String()))
		}
	}

	// Validate pipeline tunables
	if config.Pipeline.ConflictThreshold <= 0 || config.Pipeline.ConflictThreshold > 1 {
		return fmt.Errorf("conflict threshold must be in (0, 1], got %v", config.Pipeline.ConflictThreshold)
	}
	tiers := config.Pipeline.TierThresholds
	if !(0 < tiers.Moderate && tiers.Moderate < tiers.High && tiers.High < tiers.Critical && tiers.Critical <= 1) {
		return fmt.Errorf("tier thresholds must satisfy 0 < moderate < high < critical <= 1")
	}
	if config.Pipeline.NormalClass == "" {
		return fmt.Errorf("normal class label is required")
	}
	for name, weight := range config.Pipeline.RiskFactorWeights {
		if weight < 0 {
			return fmt.Errorf("risk factor weight for %q must be non-negative", name)
		}
	}

	// Validate calibration temperatures
	for name, temp := range map[string]float64{
		"image": config.Calibration.ImageTemperature,
		"audio": config.Calibration.AudioTemperature,
		"ehr":   config.Calibration.EHRTemperature,
	} {
		if temp <= 0 {
			return fmt.Errorf("%s calibration temperature must be positive, got %v", name, temp)
		}
	}

	// Validate report store configuration
	switch config.ReportStore.Driver {
	case "sqlite":
		if config.ReportStore.SQLitePath == "" {
			return fmt.Errorf("sqlite report store path is required")
		}
	case "postgres":
		if config.Database.Host == "" || config.Database.Database == "" {
			return fmt.Errorf("postgres report store requires database host and name")
		}
	default:
		return fmt.Errorf("unsupported report store driver: %s", config.ReportStore.Driver)
	}

	// Validate cache configuration
	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the cache is enabled")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}
