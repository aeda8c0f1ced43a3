// Package config loads settings for the client and the daemon from an
// optional YAML file, with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ClientConfig configures the interactive client.
type ClientConfig struct {
	// StorePath is the SQLite file holding the local game store.
	StorePath string `yaml:"store_path"`
	// APIBaseURL is the root of the sync API, e.g. "http://localhost:8080/api".
	APIBaseURL string `yaml:"api_base_url"`
	DebounceMS int    `yaml:"debounce_ms"`
	PollMS     int    `yaml:"poll_ms"`
}

// Debounce returns the sync debounce window.
func (c ClientConfig) Debounce() time.Duration { return time.Duration(c.DebounceMS) * time.Millisecond }

// PollInterval returns the leaderboard poll interval.
func (c ClientConfig) PollInterval() time.Duration { return time.Duration(c.PollMS) * time.Millisecond }

// ServerConfig configures the daemon.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Storage selects the repository backend: "postgres" or "memory".
	Storage        string   `yaml:"storage"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DB             DBConfig `yaml:"db"`
}

// Config is the full configuration tree.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Client: ClientConfig{
			StorePath:  filepath.Join(home, ".twenty48", "twenty48.db"),
			APIBaseURL: "http://localhost:8080/api",
			DebounceMS: 3000,
			PollMS:     5000,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			Storage:        "postgres",
			RatePerSecond:  20,
			RateBurst:      40,
			AllowedOrigins: []string{"*"},
			DB: DBConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Password: "postgres",
				Database: "twenty48",
				SSLMode:  "disable",
			},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if it
// exists), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Client.StorePath = getEnv("TWENTY48_STORE", c.Client.StorePath)
	c.Client.APIBaseURL = getEnv("TWENTY48_API_URL", c.Client.APIBaseURL)
	c.Client.DebounceMS = getEnvAsInt("TWENTY48_DEBOUNCE_MS", c.Client.DebounceMS)
	c.Client.PollMS = getEnvAsInt("TWENTY48_POLL_MS", c.Client.PollMS)

	c.Server.Addr = getEnv("TWENTY48_ADDR", c.Server.Addr)
	c.Server.Storage = getEnv("TWENTY48_STORAGE", c.Server.Storage)

	c.Server.DB.Host = getEnv("DB_HOST", c.Server.DB.Host)
	c.Server.DB.Port = getEnvAsInt("DB_PORT", c.Server.DB.Port)
	c.Server.DB.User = getEnv("DB_USER", c.Server.DB.User)
	c.Server.DB.Password = getEnv("DB_PASSWORD", c.Server.DB.Password)
	c.Server.DB.Database = getEnv("DB_NAME", c.Server.DB.Database)
	c.Server.DB.SSLMode = getEnv("DB_SSLMODE", c.Server.DB.SSLMode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
