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

	original := &Config{
		DataDir:  "/tmp/test-data",
		LogLevel: "debug",
	}
	original.Server.BaseURL = "https://chat.example.com"
	original.Server.AuthToken = "tok-round-trip"
	original.Server.ProfilePath = "/api/me"
	original.Chat.Agent = "research"
	original.Chat.InactivityTimeoutMs = 5000
	original.Chat.ReconnectBaseMs = 250
	original.Chat.ReconnectMaxMs = 4000
	original.Chat.MaxReconnectAttempts = 3
	original.Chat.TraceFrames = true
	original.Mock.Listen = "127.0.0.1:9999"

	// Save
	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	// Reload
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Compare key fields
	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.Server.BaseURL != original.Server.BaseURL {
		t.Errorf("Server.BaseURL mismatch: %v != %v", loaded.Server.BaseURL, original.Server.BaseURL)
	}
	if loaded.Server.AuthToken != original.Server.AuthToken {
		t.Errorf("Server.AuthToken mismatch: %v != %v", loaded.Server.AuthToken, original.Server.AuthToken)
	}
	if loaded.Server.ProfilePath != original.Server.ProfilePath {
		t.Errorf("Server.ProfilePath mismatch: %v != %v", loaded.Server.ProfilePath, original.Server.ProfilePath)
	}
	if loaded.Chat.Agent != original.Chat.Agent {
		t.Errorf("Chat.Agent mismatch: %v != %v", loaded.Chat.Agent, original.Chat.Agent)
	}
	if loaded.InactivityTimeout() != 5*time.Second {
		t.Errorf("InactivityTimeout mismatch: %v", loaded.InactivityTimeout())
	}
	if loaded.ReconnectBase() != 250*time.Millisecond || loaded.ReconnectMax() != 4*time.Second {
		t.Errorf("reconnect mismatch: %v %v", loaded.ReconnectBase(), loaded.ReconnectMax())
	}
	if loaded.Chat.MaxReconnectAttempts != 3 {
		t.Errorf("Chat.MaxReconnectAttempts mismatch: %v", loaded.Chat.MaxReconnectAttempts)
	}
	if !loaded.Chat.TraceFrames {
		t.Error("Chat.TraceFrames should be true")
	}
	if loaded.Mock.Listen != original.Mock.Listen {
		t.Errorf("Mock.Listen mismatch: %v != %v", loaded.Mock.Listen, original.Mock.Listen)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:8000" {
		t.Errorf("unexpected default base url: %s", cfg.Server.BaseURL)
	}
	if cfg.Chat.Agent != "general" || cfg.Chat.InactivityTimeoutMs != 3000 {
		t.Errorf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.Chat.ReconnectBaseMs != 500 || cfg.Chat.ReconnectMaxMs != 8000 || cfg.Chat.MaxReconnectAttempts != 5 {
		t.Errorf("unexpected reconnect defaults: %+v", cfg.Chat)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults should be written: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("GRAVIA_SERVER_URL", "https://override.example.com")
	t.Setenv("GRAVIA_AUTH_TOKEN", "env-token")
	t.Setenv("GRAVIA_LOG_LEVEL", "debug")
	t.Setenv("GRAVIA_DATA_DIR", "/tmp/gravia-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://override.example.com" {
		t.Errorf("GRAVIA_SERVER_URL not applied: %s", cfg.Server.BaseURL)
	}
	if cfg.Server.AuthToken != "env-token" {
		t.Errorf("GRAVIA_AUTH_TOKEN not applied: %s", cfg.Server.AuthToken)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("GRAVIA_LOG_LEVEL not applied: %s", cfg.LogLevel)
	}
	if cfg.DataDir != "/tmp/gravia-env" {
		t.Errorf("GRAVIA_DATA_DIR not applied: %s", cfg.DataDir)
	}

	// Env overrides are not written back to the file.
	v, err := GetValue(path, "server.auth_token")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("env token leaked into config file: %v", v)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify no temp file left behind
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	// Verify the file is valid JSON
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
	cfg := &Config{
		DataDir:  "/tmp/test",
		LogLevel: "debug",
	}
	cfg.Server.BaseURL = "http://127.0.0.1:8000"
	cfg.Chat.Agent = "general"
	cfg.Chat.InactivityTimeoutMs = 3000

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	if m["log_level"] != "debug" {
		t.Errorf("expected log_level=debug, got %v", m["log_level"])
	}

	chat, ok := m["chat"].(map[string]any)
	if !ok {
		t.Fatalf("expected chat to be map, got %T", m["chat"])
	}
	if chat["agent"] != "general" {
		t.Errorf("expected chat.agent=general, got %v", chat["agent"])
	}
	// JSON numbers are float64
	if chat["inactivity_timeout_ms"] != float64(3000) {
		t.Errorf("expected chat.inactivity_timeout_ms=3000, got %v", chat["inactivity_timeout_ms"])
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := &Config{
		LogLevel: "info",
	}
	cfg.Server.AuthToken = "tok-secret-1234"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	// Secrets should be unmasked
	if flat["server.auth_token"] != "tok-secret-1234" {
		t.Errorf("expected unmasked server.auth_token, got %v", flat["server.auth_token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{
		LogLevel: "info",
	}
	cfg.Server.AuthToken = "tok-secret-1234"
	cfg.Server.BaseURL = "http://127.0.0.1:8000"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	// Secrets should be masked
	if flat["server.auth_token"] != "***1234" {
		t.Errorf("expected masked server.auth_token=***1234, got %v", flat["server.auth_token"])
	}

	// Non-secrets should be unchanged
	if flat["server.base_url"] != "http://127.0.0.1:8000" {
		t.Errorf("expected server.base_url unchanged, got %v", flat["server.base_url"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{
		LogLevel: "debug",
	}
	cfg.Chat.Agent = "research"
	cfg.Chat.MaxReconnectAttempts = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "chat.agent")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "research" {
		t.Errorf("expected chat.agent=research, got %v", v)
	}

	v, err = GetValue(path, "chat.max_reconnect_attempts")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	// JSON numbers are float64
	if v != float64(8) {
		t.Errorf("expected chat.max_reconnect_attempts=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
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

	cfg := &Config{LogLevel: "info"}
	cfg.Server.BaseURL = "http://127.0.0.1:8000"
	writeTestConfig(t, path, cfg)

	// Set a string value
	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	// Verify it was set
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug after set, got %v", v)
	}

	// Verify other values are preserved
	v, err = GetValue(path, "server.base_url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "http://127.0.0.1:8000" {
		t.Errorf("expected server.base_url preserved, got %v", v)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{}
	cfg.Chat.InactivityTimeoutMs = 3000
	writeTestConfig(t, path, cfg)

	// Set a numeric value (JSON parseable)
	if err := SetValue(path, "chat.inactivity_timeout_ms", "4500"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "chat.inactivity_timeout_ms")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(4500) {
		t.Errorf("expected chat.inactivity_timeout_ms=4500, got %v (%T)", v, v)
	}

	// The typed view follows.
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.InactivityTimeout() != 4500*time.Millisecond {
		t.Errorf("expected 4.5s, got %v", loaded.InactivityTimeout())
	}
}

func TestSetValue_Boolean(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	writeTestConfig(t, path, cfg)

	// Set a boolean value (JSON parseable)
	if err := SetValue(path, "chat.trace_frames", "true"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "chat.trace_frames")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != true {
		t.Errorf("expected chat.trace_frames=true, got %v (%T)", v, v)
	}
}

func TestSetValue_NumericLookingToken(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{})

	// Objects and strings that merely look like JSON are stored as strings.
	if err := SetValue(path, "server.auth_token", `{"a":1}`); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "server.auth_token")
	if err != nil {
		t.Fatal(err)
	}
	if v != `{"a":1}` {
		t.Errorf("expected raw string, got %v (%T)", v, v)
	}
}

func TestSetValue_NestedKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{}
	cfg.Server.BaseURL = "http://127.0.0.1:8000"
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "server.base_url", "https://chat.example.com"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "server.base_url")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "https://chat.example.com" {
		t.Errorf("expected server.base_url updated, got %v", v)
	}
}

func TestSetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})
	before, _ := os.ReadFile(path)

	err := SetValue(path, "custom.setting", "value")
	if err == nil || err.Error() != "unknown config key: custom.setting" {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("config file changed after rejected set")
	}
}

func TestSetValue_CoercesToKeyType(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, defaults())

	// A numeric-looking agent name stays a string.
	if err := SetValue(path, "chat.agent", "42"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after set failed: %v", err)
	}
	if cfg.Chat.Agent != "42" {
		t.Errorf("expected agent 42, got %q", cfg.Chat.Agent)
	}

	if err := SetValue(path, "log_level", "WARN"); err != nil {
		t.Fatal(err)
	}
	if v, _ := GetValue(path, "log_level"); v != "warn" {
		t.Errorf("expected log_level=warn, got %v", v)
	}
}

func TestSetValue_RejectsBadValues(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, defaults())
	before, _ := os.ReadFile(path)

	cases := []struct{ key, value string }{
		{"chat.reconnect_base_ms", "1.5"},
		{"chat.reconnect_base_ms", "soon"},
		{"chat.max_reconnect_attempts", "-1"},
		{"chat.trace_frames", "maybe"},
		{"log_level", "loud"},
	}
	for _, tc := range cases {
		if err := SetValue(path, tc.key, tc.value); err == nil {
			t.Errorf("set %s=%s: expected error", tc.key, tc.value)
		}
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("config file changed after rejected set")
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load failed after rejected sets: %v", err)
	}
}

func TestSetValue_RepairsBadFile(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level":"info","chat":{"agent":42}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail on a numeric agent")
	}

	if err := SetValue(path, "chat.agent", "general"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after repair failed: %v", err)
	}
	if cfg.Chat.Agent != "general" {
		t.Errorf("expected agent general, got %q", cfg.Chat.Agent)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.Chat.ReconnectMaxMs != 8000 {
		t.Errorf("expected defaults plus log_level=debug, got %+v", cfg)
	}
}

func TestGetValue_MissingFromFile(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level":"info"}`), 0600); err != nil {
		t.Fatal(err)
	}
	v, err := GetValue(path, "chat.ping_interval_ms")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(15000) {
		t.Errorf("expected default 15000, got %v (%T)", v, v)
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	// GetValue calls Load, which creates the file if it doesn't exist.
	// But if the directory doesn't exist, it should still work because
	// Load creates it. Let's test with a valid temp dir.
	path := tempConfigPath(t)

	// File doesn't exist yet; Load will create it with defaults
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	// Default log_level is "info"
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.json")

	cfg := &Config{LogLevel: "warn"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}
