// Package config loads application configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the audience engine.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Cache        CacheConfig        `yaml:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds cache store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SegmentationConfig bounds rule complexity and evaluation cost.
type SegmentationConfig struct {
	MaxDepth            int `yaml:"max_depth"`
	MaxConditions       int `yaml:"max_conditions"`
	SampleCap           int `yaml:"sample_cap"`
	IDListCap           int `yaml:"id_list_cap"`
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`
}

// QueryTimeout returns the evaluation ceiling as a duration.
func (c SegmentationConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// ScoringConfig holds the activity scoring model parameters.
type ScoringConfig struct {
	WindowDays         int                `yaml:"window_days"`
	HalfLifeDays       float64            `yaml:"half_life_days"`
	CalibrationCeiling float64            `yaml:"calibration_ceiling"`
	BatchWorkers       int                `yaml:"batch_workers"`
	Weights            map[string]float64 `yaml:"weights"`
}

// CacheConfig holds TTLs and the bulk-invalidation sweep threshold.
type CacheConfig struct {
	ContactTTLSeconds int `yaml:"contact_ttl_seconds"`
	SearchTTLSeconds  int `yaml:"search_ttl_seconds"`
	StatsTTLSeconds   int `yaml:"stats_ttl_seconds"`
	SweepThreshold    int `yaml:"sweep_threshold"`
}

// ContactTTL returns the contact-entity cache expiry.
func (c CacheConfig) ContactTTL() time.Duration {
	return time.Duration(c.ContactTTLSeconds) * time.Second
}

// SearchTTL returns the search-result cache expiry.
func (c CacheConfig) SearchTTL() time.Duration {
	return time.Duration(c.SearchTTLSeconds) * time.Second
}

// StatsTTL returns the stats/distribution cache expiry.
func (c CacheConfig) StatsTTL() time.Duration {
	return time.Duration(c.StatsTTLSeconds) * time.Second
}

// Load reads and parses the configuration file. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Segmentation.MaxDepth == 0 {
		cfg.Segmentation.MaxDepth = 5
	}
	if cfg.Segmentation.MaxConditions == 0 {
		cfg.Segmentation.MaxConditions = 50
	}
	if cfg.Segmentation.SampleCap == 0 {
		cfg.Segmentation.SampleCap = 100
	}
	if cfg.Segmentation.IDListCap == 0 {
		cfg.Segmentation.IDListCap = 10000
	}
	if cfg.Segmentation.QueryTimeoutSeconds == 0 {
		cfg.Segmentation.QueryTimeoutSeconds = 30
	}
	if cfg.Scoring.WindowDays == 0 {
		cfg.Scoring.WindowDays = 90
	}
	if cfg.Scoring.HalfLifeDays == 0 {
		cfg.Scoring.HalfLifeDays = 30
	}
	if cfg.Scoring.CalibrationCeiling == 0 {
		cfg.Scoring.CalibrationCeiling = 60
	}
	if cfg.Scoring.BatchWorkers == 0 {
		cfg.Scoring.BatchWorkers = 8
	}
	if cfg.Cache.ContactTTLSeconds == 0 {
		cfg.Cache.ContactTTLSeconds = 900
	}
	if cfg.Cache.SearchTTLSeconds == 0 {
		cfg.Cache.SearchTTLSeconds = 300
	}
	if cfg.Cache.StatsTTLSeconds == 0 {
		cfg.Cache.StatsTTLSeconds = 600
	}
	if cfg.Cache.SweepThreshold == 0 {
		cfg.Cache.SweepThreshold = 100
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SEGMENT_MAX_DEPTH"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Segmentation.MaxDepth = d
		}
	}
	if v := os.Getenv("SEGMENT_MAX_CONDITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Segmentation.MaxConditions = n
		}
	}
	if v := os.Getenv("SCORING_BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scoring.BatchWorkers = n
		}
	}

	return cfg, nil
}
