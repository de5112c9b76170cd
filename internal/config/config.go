// Package config loads server settings from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// RedisAddr selects the Redis backend. Empty runs on the in-memory
	// backend, which is not shared between processes.
	RedisAddr      string        `yaml:"redis_addr"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	MessageCapacity int `yaml:"message_capacity"`

	RateLimit RateLimit `yaml:"rate_limit"`

	MaxStreamConns int `yaml:"max_stream_conns"`
}

// RateLimit bounds sends per client IP within a sliding window.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		BackendTimeout:  2 * time.Second,
		MessageCapacity: 100,
		RateLimit: RateLimit{
			Max:    30,
			Window: 10 * time.Second,
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment if present. path may be empty.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", c.BackendTimeout)
	c.MessageCapacity = getEnvInt("MESSAGE_CAPACITY", c.MessageCapacity)
	c.RateLimit.Max = getEnvInt("RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.MaxStreamConns = getEnvInt("MAX_STREAM_CONNS", c.MaxStreamConns)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.MessageCapacity <= 0 {
		return fmt.Errorf("message_capacity must be positive, got %d", c.MessageCapacity)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("backend_timeout must be positive, got %s", c.BackendTimeout)
	}
	if c.RateLimit.Max < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.MaxStreamConns < 0 {
		return fmt.Errorf("max_stream_conns must not be negative, got %d", c.MaxStreamConns)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("config: invalid int value for %s: %s, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("config: invalid duration value for %s: %s, using %s", key, value, defaultValue)
	}
	return defaultValue
}
