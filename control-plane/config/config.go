// Package config loads the control-plane configuration.
//
// Values are layered: built-in defaults, then the YAML file given with
// --config, then PROXYFARM_* environment variables, then command-line flags
// that were set explicitly.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ngojclee/proxy-farm-system/control-plane/database"
	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PROXYFARM_"

// Config is the control-plane configuration
type Config struct {
	// ListenAddress is the HTTP listen address of the API.
	ListenAddress string `yaml:"listen_address"`

	// DataDir holds the assignment and IP history stores.
	DataDir string `yaml:"data_dir"`

	// StorageBackend is "file" (two JSON documents) or "bolt" (fleet.db).
	StorageBackend string `yaml:"storage_backend"`

	// HistoryLimit is the number of rotations kept per device.
	HistoryLimit int `yaml:"history_limit"`

	// DefaultWindow is the ip-changes window when the request gives none.
	DefaultWindow time.Duration `yaml:"default_window"`

	// GatewayAddress is handed to users without a dedicated device.
	GatewayAddress string `yaml:"gateway_address"`

	// InventoryFile is a YAML device inventory re-read on every refresh.
	// When empty the inline Devices list is used.
	InventoryFile string          `yaml:"inventory_file"`
	Devices       []models.Device `yaml:"devices"`

	// RefreshInterval re-runs discovery periodically. Zero disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	NATS NATSConfig `yaml:"nats"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig configures publishing of rotation advisories
type NATSConfig struct {
	// URL of the NATS server. Publishing is off when empty.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ListenAddress:   ":8080",
		DataDir:         "configs/dcom",
		StorageBackend:  database.BackendFile,
		HistoryLimit:    10,
		DefaultWindow:   24 * time.Hour,
		LogLevel:        "info",
		LogFormat:       "text",
		NATS:            NATSConfig{Subject: "proxyfarm.ip_change"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for i := range cfg.Devices {
		if cfg.Devices[i].Status == "" {
			cfg.Devices[i].Status = models.DeviceStatusActive
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PROXYFARM_* variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("LISTEN_ADDRESS", &c.ListenAddress)
	str("DATA_DIR", &c.DataDir)
	str("STORAGE_BACKEND", &c.StorageBackend)
	str("GATEWAY_ADDRESS", &c.GatewayAddress)
	str("INVENTORY_FILE", &c.InventoryFile)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)

	if v, ok := lookup(EnvPrefix + "HISTORY_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHISTORY_LIMIT: %w", EnvPrefix, err)
		}
		c.HistoryLimit = n
	}

	durations := map[string]*time.Duration{
		"DEFAULT_WINDOW":   &c.DefaultWindow,
		"REFRESH_INTERVAL": &c.RefreshInterval,
		"SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}
	return nil
}

// AddFlags defines the command-line flags that can override the file
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to the YAML configuration file")
	fs.String("listen", d.ListenAddress, "HTTP listen address")
	fs.String("data-dir", d.DataDir, "directory holding the fleet stores")
	fs.String("storage", d.StorageBackend, "storage backend: file or bolt")
	fs.Int("history-limit", d.HistoryLimit, "rotations kept per device")
	fs.String("inventory", "", "YAML device inventory file")
	fs.String("gateway", "", "address handed to users without a dedicated device")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
	fs.String("nats-url", "", "NATS server for ip change advisories")
}

// ApplyFlags copies the flags that were set explicitly onto c
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"listen":     &c.ListenAddress,
		"data-dir":   &c.DataDir,
		"storage":    &c.StorageBackend,
		"inventory":  &c.InventoryFile,
		"gateway":    &c.GatewayAddress,
		"log-level":  &c.LogLevel,
		"log-format": &c.LogFormat,
		"nats-url":   &c.NATS.URL,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Changed("history-limit") {
		n, err := fs.GetInt("history-limit")
		if err != nil {
			return err
		}
		c.HistoryLimit = n
	}
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen_address is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.StorageBackend {
	case database.BackendFile, database.BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("storage_backend must be %q or %q, got %q",
			database.BackendFile, database.BackendBolt, c.StorageBackend))
	}
	if c.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit))
	}
	if c.DefaultWindow <= 0 {
		errs = append(errs, fmt.Errorf("default_window must be positive, got %s", c.DefaultWindow))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must not be negative, got %s", c.RefreshInterval))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}
	if c.InventoryFile == "" {
		for i := range c.Devices {
			if err := c.Devices[i].Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}
