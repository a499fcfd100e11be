// Package config assembles runtime configuration from environment
// variables (with defaults) and an optional YAML file that overrides the
// table-creation validation ranges.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Postgres holds the DB_* connection settings.
type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the Postgres connection URL.
func (p Postgres) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// Limits are the server-side validation ranges for table creation. Each
// field of a create request is checked independently.
type Limits struct {
	MinStartingTimeMs int64 `yaml:"min_starting_time_ms"`
	MaxStartingTimeMs int64 `yaml:"max_starting_time_ms"`
	MinRounds         int   `yaml:"min_rounds"`
	MaxRounds         int   `yaml:"max_rounds"`
	MinPlayers        int   `yaml:"min_players"`
	MaxPlayers        int   `yaml:"max_players"`
	MinGracePeriodMs  int64 `yaml:"min_grace_period_ms"`
	MaxGracePeriodMs  int64 `yaml:"max_grace_period_ms"`
	MaxNameLength     int   `yaml:"max_name_length"`
}

// DefaultLimits returns the built-in validation ranges.
func DefaultLimits() Limits {
	return Limits{
		MinStartingTimeMs: 10_000,
		MaxStartingTimeMs: 3_600_000,
		MinRounds:         1,
		MaxRounds:         20,
		MinPlayers:        2,
		MaxPlayers:        16,
		MinGracePeriodMs:  0,
		MaxGracePeriodMs:  30_000,
		MaxNameLength:     64,
	}
}

// Config is the full runtime configuration.
type Config struct {
	HTTPPort      string
	PublicBaseURL string
	LogLevel      string

	// StoreDriver selects "postgres" or "memory".
	StoreDriver string
	Postgres    Postgres

	NATSEnabled bool
	NATSURL     string

	Limits Limits
}

type fileConfig struct {
	Limits *Limits `yaml:"limits"`
}

// Load reads configuration from the environment plus the optional YAML
// file named by CONFIG_FILE.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StoreDriver:   getEnv("STORE", "memory"),
		Postgres: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "holdfast"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		NATSEnabled: getEnv("NATS_ENABLED", "false") == "true",
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		Limits:      DefaultLimits(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if fc.Limits != nil {
			cfg.Limits = *fc.Limits
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
