package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration: YAML file first, environment
// variables override.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Game struct {
		DurationSec   int `yaml:"duration_sec"`
		GraceWindowMS int `yaml:"grace_window_ms"`
	} `yaml:"game"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database DatabaseConfig `yaml:"database"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

// DatabaseConfig holds Postgres connection settings. Empty host disables
// persistence and the server falls back to the in-memory store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Game.DurationSec = 15
	cfg.Game.GraceWindowMS = 3000
	cfg.Log.Level = "info"
	cfg.Database = DatabaseConfig{
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "wordduel",
		SSLMode:  "disable",
	}
	return cfg
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Game.DurationSec = getEnvAsInt("GAME_DURATION_SEC", c.Game.DurationSec)
	c.Game.GraceWindowMS = getEnvAsInt("GRACE_WINDOW_MS", c.Game.GraceWindowMS)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
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
