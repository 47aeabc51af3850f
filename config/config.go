package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Matching  MatchingConfig
	Points    PointsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string        `env:"SERVER_PORT" envDefault:"8099"`
	Env          string        `env:"ENVIRONMENT" envDefault:"development"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"mysql"` // mysql | postgres | sqlite
	DSN             string        `env:"DB_DSN" envDefault:"ecoswap:ecoswap@tcp(localhost:3306)/ecoswap?charset=utf8mb4&parseTime=True&loc=Local"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
}

type JWTConfig struct {
	AccessSecret string `env:"JWT_SECRET" envDefault:"dev-secret"`
	Issuer       string `env:"JWT_ISSUER" envDefault:"ecoswap"`
}

// MatchingConfig points at the remote matching service that owns match state.
type MatchingConfig struct {
	BaseURL       string        `env:"AI_API_BASE" envDefault:"http://localhost:8000"`
	APIKey        string        `env:"SERVER_ONLY_AI_API_KEY"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL"`
	CallTimeout   time.Duration `env:"MATCHING_CALL_TIMEOUT" envDefault:"20s"`
	// MaxConcurrentLookups bounds per-item lookups while building the proposal feed.
	MaxConcurrentLookups int `env:"MATCHING_MAX_CONCURRENT_LOOKUPS" envDefault:"4"`
}

type PointsConfig struct {
	// AdminAPIKey left empty disables the grant endpoint.
	AdminAPIKey       string        `env:"ADMIN_API_KEY"`
	DefaultPointValue int64         `env:"POINTS_DEFAULT_VALUE" envDefault:"10"`
	Levels            string        `env:"POINTS_LEVELS" envDefault:"0:Seedling,100:Sprout,300:Sapling,700:Tree,1500:Forest"`
	SettleAttempts    uint          `env:"POINTS_SETTLE_ATTEMPTS" envDefault:"6"`
	SettleDelay       time.Duration `env:"POINTS_SETTLE_DELAY" envDefault:"500ms"`
	SettleMultiplier  float64       `env:"POINTS_SETTLE_MULTIPLIER" envDefault:"1"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Load reads the configuration from the environment. The returned value is
// never mutated afterwards; callers hand sections to constructors.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Points.SettleAttempts == 0 {
		return nil, fmt.Errorf("POINTS_SETTLE_ATTEMPTS must be at least 1")
	}
	if cfg.Server.Env == "production" && cfg.JWT.AccessSecret == "dev-secret" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	return &cfg, nil
}
