package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Server   struct {
		BaseURL     string `json:"base_url"`
		AuthToken   string `json:"auth_token"`
		ProfilePath string `json:"profile_path"`
	} `json:"server"`
	Chat struct {
		Agent                string `json:"agent"`
		InactivityTimeoutMs  int    `json:"inactivity_timeout_ms"`
		ReconnectBaseMs      int    `json:"reconnect_base_ms"`
		ReconnectMaxMs       int    `json:"reconnect_max_ms"`
		MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
		PingIntervalMs       int    `json:"ping_interval_ms"`
		TraceFrames          bool   `json:"trace_frames"`
	} `json:"chat"`
	Mock struct {
		Listen         string `json:"listen"`
		ChunkDelayMs   int    `json:"chunk_delay_ms"`
		MaxConnections int    `json:"max_connections"`
	} `json:"mock"`
}

// DefaultPath returns ~/.gravia/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".gravia", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".gravia"),
		LogLevel: "info",
	}
	cfg.Server.BaseURL = "http://127.0.0.1:8000"
	cfg.Server.ProfilePath = "/user/profile"
	cfg.Chat.Agent = "general"
	cfg.Chat.InactivityTimeoutMs = 3000
	cfg.Chat.ReconnectBaseMs = 500
	cfg.Chat.ReconnectMaxMs = 8000
	cfg.Chat.MaxReconnectAttempts = 5
	cfg.Chat.PingIntervalMs = 15000
	cfg.Mock.Listen = "127.0.0.1:8000"
	cfg.Mock.ChunkDelayMs = 40
	cfg.Mock.MaxConnections = 16
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("GRAVIA_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("GRAVIA_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("GRAVIA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRAVIA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	return cfg, nil
}

// InactivityTimeout returns chat.inactivity_timeout_ms as a duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Chat.InactivityTimeoutMs) * time.Millisecond
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Chat.ReconnectBaseMs) * time.Millisecond
}

func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Chat.ReconnectMaxMs) * time.Millisecond
}

// PingInterval is zero when keepalive pings are disabled.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Chat.PingIntervalMs) * time.Millisecond
}

func (c *Config) ChunkDelay() time.Duration {
	return time.Duration(c.Mock.ChunkDelayMs) * time.Millisecond
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeDefaults(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON object form.
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

// ListValues returns cfg as flat dot keys, with secrets masked when mask is set.
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

// readRaw reads the config file as a generic map so keys outside Config survive.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// GetValue returns the value stored under a dot key, or its default when the
// file predates the key. The file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, ok := LookupKey(key); !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if v, ok := Flatten(m)[key]; ok {
		return v, nil
	}
	d, err := ListValues(defaults(), false)
	if err != nil {
		return nil, err
	}
	return d[key], nil
}

// SetValue stores value under a known dot key, converted to the key's type.
// Nothing is written unless the result still loads. A missing file starts
// from defaults.
func SetValue(path, key, value string) error {
	k, ok := LookupKey(key)
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	v, err := k.Parse(value)
	if err != nil {
		return err
	}

	m, err := readRaw(path)
	if errors.Is(err, fs.ErrNotExist) {
		m, err = ToMap(defaults())
	}
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, &Config{}); err != nil {
		return fmt.Errorf("refusing to write %s: %w", path, err)
	}
	return writeFile(path, data)
}
