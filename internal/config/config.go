// Package config loads the winops-remote YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smnsjas/go-winops/client"
	winlog "github.com/smnsjas/go-winops/internal/log"
	"github.com/smnsjas/go-winops/store"
	"github.com/smnsjas/go-winops/wsman/auth"
)

// FileName is the configuration file inside the application directory.
const FileName = "config.yaml"

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format     string `yaml:"format,omitempty"` // text or json
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// Config is the on-disk configuration.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Auth         string        `yaml:"auth"`
	UseTLS       bool          `yaml:"use_tls"`
	// InsecureSkipVerify is a pointer so an absent key keeps the default.
	InsecureSkipVerify *bool     `yaml:"insecure_skip_verify,omitempty"`
	Runner             string    `yaml:"runner"`
	Krb5Conf           string    `yaml:"krb5_conf,omitempty"`
	Realm              string    `yaml:"realm,omitempty"`
	Proxy              string    `yaml:"proxy,omitempty"`
	StorePath          string    `yaml:"store_path,omitempty"`
	StoreIdentity      string    `yaml:"store_identity,omitempty"`
	Concurrency        int       `yaml:"concurrency"`
	Audit              bool      `yaml:"audit"`
	Log                LogConfig `yaml:"log"`
}

// DefaultPath returns the per-user configuration file path, next to the
// connection store.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate user config dir: %w", err)
	}
	return filepath.Join(dir, store.AppDir, FileName), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	mc := client.DefaultConfig()
	skip := mc.InsecureSkipVerify
	return &Config{
		Timeout:            mc.Timeout,
		ProbeTimeout:       mc.ProbeTimeout,
		Auth:               string(mc.Auth),
		InsecureSkipVerify: &skip,
		Runner:             mc.Runner,
		Concurrency:        1,
		Log:                LogConfig{Level: "warn", Format: "text", MaxBackups: winlog.DefaultMaxBackups},
	}
}

// Load reads path. A missing file yields Default. Keys absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// YAML renders c in the file format.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	return data, nil
}

// Write stores cfg at path with mode 0600, creating the directory.
func Write(path string, cfg *Config) error {
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if _, err := winlog.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	mc := c.ManagerConfig()
	return mc.Validate()
}

// ManagerConfig converts c into the connection manager's configuration.
func (c *Config) ManagerConfig() client.Config {
	mc := client.DefaultConfig()
	if c.Timeout > 0 {
		mc.Timeout = c.Timeout
	}
	if c.ProbeTimeout > 0 {
		mc.ProbeTimeout = c.ProbeTimeout
	}
	if c.Auth != "" {
		mc.Auth = auth.Scheme(c.Auth)
		if s, err := auth.ParseScheme(c.Auth); err == nil {
			mc.Auth = s
		}
	}
	if c.Runner != "" {
		mc.Runner = c.Runner
	}
	if c.InsecureSkipVerify != nil {
		mc.InsecureSkipVerify = *c.InsecureSkipVerify
	}
	mc.UseTLS = c.UseTLS
	mc.Krb5ConfPath = c.Krb5Conf
	mc.Realm = c.Realm
	mc.Proxy = c.Proxy
	mc.StorePath = c.StorePath
	mc.StoreIdentity = c.StoreIdentity
	return mc
}

// LogOptions converts the log section into logger options.
func (c *Config) LogOptions() winlog.Options {
	return winlog.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSize:    int64(c.Log.MaxSizeMB) << 20,
		MaxBackups: c.Log.MaxBackups,
	}
}
