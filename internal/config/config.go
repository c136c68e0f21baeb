// Package config loads scheduler configuration from environment
// variables and an optional YAML declaration file, following the
// env-with-fallback pattern of the workflow engine this project grew out
// of.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Concurrency policy sentinels for NodeConcurrency entries. Any other
// positive value is a fixed per-node concurrency limit.
const (
	// Unlimited means the node is bounded only by MaxParallelism's
	// shared worker pool, not by any per-node limit. This is also the
	// policy for a node name absent from NodeConcurrency.
	Unlimited = 0
	// Serial means at most one invocation of the node runs at a time.
	Serial = 1
)

// Config holds process-wide scheduler settings.
type Config struct {
	// LogLevel is passed straight through to logging.Config.
	LogLevel string `yaml:"log_level"`
	// MaxParallelism bounds the total number of concurrently-running
	// node invocations across the whole graph.
	MaxParallelism int `yaml:"max_parallelism"`
	// NodeConcurrency declares each node's concurrency policy by name:
	// Serial, Unlimited, or a fixed positive limit. A node name absent
	// from the map is Unlimited.
	NodeConcurrency map[string]int `yaml:"node_concurrency"`
	// DatabaseDSN configures the optional SQL-backed Storage
	// implementation; empty disables it.
	DatabaseDSN string `yaml:"database_dsn"`
}

// Default returns baseline settings suitable for a single-process run.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		MaxParallelism:  4,
		NodeConcurrency: map[string]int{},
	}
}

// Load reads environment overrides on top of Default.
func Load() *Config {
	cfg := Default()
	cfg.LogLevel = getEnv("CELLFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseDSN = getEnv("CELLFLOW_DATABASE_DSN", cfg.DatabaseDSN)
	if v := os.Getenv("CELLFLOW_MAX_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallelism = n
		}
	}
	return cfg
}

// LoadYAML reads a declarative graph/test-fixture configuration file,
// merging it on top of Default.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ConcurrencyFor returns the configured concurrency policy for a node
// name: Serial, a fixed positive limit, or Unlimited (the default for
// any name not present in NodeConcurrency) meaning the node is bounded
// only by MaxParallelism's shared worker pool.
func (c *Config) ConcurrencyFor(nodeName string) int {
	if n, ok := c.NodeConcurrency[nodeName]; ok && n > 0 {
		return n
	}
	return Unlimited
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
