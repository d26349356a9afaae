package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save atomically writes cfg to path as indented JSON, creating any
// missing parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap round-trips cfg through JSON into a generic nested map, the shape
// Flatten/Unflatten operate on.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns the flat dot-keyed view of cfg, masking secret values
// when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRawMap loads path as a generic nested map, creating it with defaults
// first if it does not exist.
func readRawMap(path string) (map[string]any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}
	return m, nil
}

// GetValue reads a single dot-keyed value from the config file at path,
// creating the file with defaults if it does not yet exist.
func GetValue(path, key string) (any, error) {
	m, err := readRawMap(path)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes a single dot-keyed value into the config file at path.
// The file must already exist; SetValue never creates one. value is
// parsed as JSON when possible (numbers, booleans) and falls back to a
// plain string otherwise, so both `rulehostd config set limits.max_per_user
// 16` and `rulehostd config set log_level debug` work without quoting.
func SetValue(path, key, value string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file does not exist: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshal config file: %w", err)
	}

	flat := Flatten(m)
	flat[key] = parseValue(value)
	updated := Unflatten(flat)

	out, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
