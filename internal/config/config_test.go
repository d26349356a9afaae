package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := defaultConfig()
	original.LogLevel = "debug"
	original.Limits.MaxConcurrentSessions = 4
	original.Limits.DefaultEvalTimeout = 9 * time.Second
	original.Tools.ShellEnabled = true
	original.Tools.APIToken = "tok-round-trip"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.Limits.MaxConcurrentSessions != original.Limits.MaxConcurrentSessions {
		t.Errorf("MaxConcurrentSessions mismatch: %v != %v", loaded.Limits.MaxConcurrentSessions, original.Limits.MaxConcurrentSessions)
	}
	if loaded.Tools.ShellEnabled != original.Tools.ShellEnabled {
		t.Errorf("ShellEnabled mismatch: %v != %v", loaded.Tools.ShellEnabled, original.Tools.ShellEnabled)
	}
	if loaded.Tools.APIToken != original.Tools.APIToken {
		t.Errorf("APIToken mismatch: %v != %v", loaded.Tools.APIToken, original.Tools.APIToken)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	cfg.LogLevel = "info"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	cfg.Limits.MaxPerUser = 3

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	if m["log_level"] != "debug" {
		t.Errorf("expected log_level=debug, got %v", m["log_level"])
	}

	limits, ok := m["limits"].(map[string]any)
	if !ok {
		t.Fatalf("expected limits to be map, got %T", m["limits"])
	}
	if limits["max_per_user"] != float64(3) {
		t.Errorf("expected limits.max_per_user=3, got %v", limits["max_per_user"])
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := defaultConfig()
	cfg.Tools.APIToken = "tok-secret-1234"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["tools.api_token"] != "tok-secret-1234" {
		t.Errorf("expected unmasked tools.api_token, got %v", flat["tools.api_token"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := defaultConfig()
	cfg.Tools.APIToken = "tok-secret-1234"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["tools.api_token"] != "***1234" {
		t.Errorf("expected masked tools.api_token=***1234, got %v", flat["tools.api_token"])
	}
	if flat["log_level"] != cfg.LogLevel {
		t.Errorf("expected log_level unchanged, got %v", flat["log_level"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	cfg.Limits.MaxConcurrentSessions = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "limits.max_concurrent_sessions")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8) {
		t.Errorf("expected limits.max_concurrent_sessions=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	writeTestConfig(t, path, cfg)

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_String(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug after set, got %v", v)
	}

	v, err = GetValue(path, "listen_addr")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != cfg.ListenAddr {
		t.Errorf("expected listen_addr preserved, got %v", v)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "limits.max_per_user", "16"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "limits.max_per_user")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(16) {
		t.Errorf("expected limits.max_per_user=16, got %v (%T)", v, v)
	}
}

func TestSetValue_Boolean(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "tools.shell_enabled", "true"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "tools.shell_enabled")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != true {
		t.Errorf("expected tools.shell_enabled=true, got %v (%T)", v, v)
	}
}

func TestSetValue_NewNestedKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := defaultConfig()
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "custom.setting", "value"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "custom.setting")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "value" {
		t.Errorf("expected custom.setting=value, got %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	err := SetValue(path, "log_level", "debug")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	path := tempConfigPath(t)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.json")

	cfg := defaultConfig()
	cfg.LogLevel = "warn"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}
