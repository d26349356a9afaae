package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the daemon's JSON-file configuration, overridable by
// environment variables (highest precedence) and readable back through
// Flatten/MaskSecrets for the `rulehostd config list` CLI surface.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataDir    string `json:"data_dir"`
	LogLevel   string `json:"log_level"`

	Limits struct {
		MaxConcurrentSessions int           `json:"max_concurrent_sessions"`
		MaxPerUser            int           `json:"max_per_user"`
		MaxQueueDepth         int           `json:"max_queue_depth"`
		MaxGlobalInflight     int           `json:"max_global_inflight"`
		DefaultEvalTimeout    time.Duration `json:"default_eval_timeout"`
		AbsoluteEvalCeiling   time.Duration `json:"absolute_eval_ceiling"`
		IdleTimeout           time.Duration `json:"idle_timeout"`
	} `json:"limits"`

	Engine struct {
		ForwardBinary   string        `json:"forward_binary"`
		SpawnDeadline   time.Duration `json:"spawn_deadline"`
		ShutdownGrace   time.Duration `json:"shutdown_grace"`
		HealthInterval  time.Duration `json:"health_interval"`
		EvictionSweep   time.Duration `json:"eviction_sweep"`
	} `json:"engine"`

	Tools struct {
		ShellEnabled bool   `json:"shell_enabled"`
		APIToken     string `json:"api_token"`
	} `json:"tools"`
}

// Load reads path if present, applying defaults for anything unset, writes
// path with defaults if it does not exist yet, then applies environment
// overrides (highest precedence).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	} else {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		ListenAddr: ":8080",
		DataDir:    filepath.Join(os.Getenv("HOME"), ".rulehost"),
		LogLevel:   "info",
	}
	cfg.Limits.MaxConcurrentSessions = 64
	cfg.Limits.MaxPerUser = 8
	cfg.Limits.MaxQueueDepth = 32
	cfg.Limits.MaxGlobalInflight = 16
	cfg.Limits.DefaultEvalTimeout = 5 * time.Second
	cfg.Limits.AbsoluteEvalCeiling = 30 * time.Second
	cfg.Limits.IdleTimeout = 15 * time.Minute
	cfg.Engine.ForwardBinary = "clips"
	cfg.Engine.SpawnDeadline = 5 * time.Second
	cfg.Engine.ShutdownGrace = 2 * time.Second
	cfg.Engine.HealthInterval = 30 * time.Second
	cfg.Engine.EvictionSweep = 30 * time.Second
	cfg.Tools.ShellEnabled = false
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RULEHOST_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RULEHOST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RULEHOST_MAX_CONCURRENT_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxConcurrentSessions = n
		}
	}
	if v := os.Getenv("RULEHOST_SHELL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tools.ShellEnabled = b
		}
	}
	if v := os.Getenv("RULEHOST_TOOLS_API_TOKEN"); v != "" {
		cfg.Tools.APIToken = v
	}
	if v := os.Getenv("RULEHOST_ENGINE_FORWARD_BINARY"); v != "" {
		cfg.Engine.ForwardBinary = v
	}
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
