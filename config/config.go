// Package config provides YAML-loadable configuration for an AgentPipe
// deployment. Everything here has a working zero-value default; a config file
// only needs to name what it overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig tunes the decision engine call.
type EngineConfig struct {
	// TimeoutMs bounds one engine call. Default 120000.
	TimeoutMs int `yaml:"timeout_ms"`
	// EnableThinking requests intermediate reasoning events.
	EnableThinking bool `yaml:"enable_thinking"`
	// ThinkingBudget caps reasoning tokens when thinking is enabled.
	ThinkingBudget int `yaml:"thinking_budget"`
}

// PersistenceConfig tunes durable write behavior.
type PersistenceConfig struct {
	// ConfirmTimeoutMs bounds the wait for the assistant message write
	// confirmation. Default 10000.
	ConfirmTimeoutMs int `yaml:"confirm_timeout_ms"`
	// AbortOnConfirmTimeout makes confirmation expiry abort the turn instead
	// of warning and continuing.
	AbortOnConfirmTimeout bool `yaml:"abort_on_confirm_timeout"`
}

// QueueConfig tunes the background write queue.
type QueueConfig struct {
	// Workers is the worker pool size. Default 4.
	Workers int `yaml:"workers"`
	// Buffer is the queue capacity. Default 64.
	Buffer int `yaml:"buffer"`
}

// EventLogConfig selects the durable store.
type EventLogConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory log.
	Path string `yaml:"path"`
	// PoolSize is the SQLite connection pool size.
	PoolSize int `yaml:"pool_size"`
}

// Config is the root configuration document.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Queue       QueueConfig       `yaml:"queue"`
	EventLog    EventLogConfig    `yaml:"event_log"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Engine:      EngineConfig{TimeoutMs: 120000},
		Persistence: PersistenceConfig{ConfirmTimeoutMs: 10000},
		Queue:       QueueConfig{Workers: 4, Buffer: 64},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// EngineTimeout returns the engine timeout as a duration.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutMs) * time.Millisecond
}

// ConfirmTimeout returns the write confirmation timeout as a duration.
func (c Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Persistence.ConfirmTimeoutMs) * time.Millisecond
}
