// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads settings for the trialbyte CLI and the reference
// review queue server from an optional trialbyte.yaml and TRIALBYTE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

const (
	EnvPrefix      = "TRIALBYTE"
	ConfigFileName = "trialbyte"
)

// Config is the root of the settings tree.
type Config struct {
	Client ClientConfig `mapstructure:"client"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// ClientConfig configures reviewlite and its local store.
type ClientConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Namespace       string        `mapstructure:"namespace"`
	StorePath       string        `mapstructure:"store_path"` // empty keeps the store in memory
	MaxValueBytes   int           `mapstructure:"max_value_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MutationTimeout time.Duration `mapstructure:"mutation_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	DrugUpdateMode  string        `mapstructure:"drug_update_mode"`
	AutoReconcile   bool          `mapstructure:"auto_reconcile"`
	BackoffMin      time.Duration `mapstructure:"backoff_min"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
}

// ServerConfig configures the reference review queue server.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	DatabaseURL      string        `mapstructure:"database_url"` // empty uses the in-memory store
	JWTSecret        string        `mapstructure:"jwt_secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	CORSMethods      []string      `mapstructure:"cors_methods"`
	DefaultPageSize  int           `mapstructure:"default_page_size"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	MaxProposedBytes int           `mapstructure:"max_proposed_bytes"`
	LogStageTimings  bool          `mapstructure:"log_stage_timings"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `mapstructure:"format"` // text or json
	Level  string `mapstructure:"level"`  // debug, info, warn, error
}

func setDefaults(v *viper.Viper) {
	client := reviewlite.DefaultConfig()
	service := reviewq.DefaultServiceConfig()

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.namespace", client.Namespace)
	v.SetDefault("client.store_path", "")
	v.SetDefault("client.max_value_bytes", 5*1024*1024)
	v.SetDefault("client.request_timeout", client.RequestTimeout)
	v.SetDefault("client.mutation_timeout", client.MutationTimeout)
	v.SetDefault("client.probe_timeout", client.ProbeTimeout)
	v.SetDefault("client.drug_update_mode", string(client.DrugUpdateMode))
	v.SetDefault("client.auto_reconcile", client.AutoReconcile)
	v.SetDefault("client.backoff_min", client.BackoffMin)
	v.SetDefault("client.backoff_max", client.BackoffMax)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.database_url", "")
	v.SetDefault("server.jwt_secret", "your-secret-key-change-in-production")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.cors_methods", []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("server.default_page_size", service.DefaultPageSize)
	v.SetDefault("server.max_page_size", service.MaxPageSize)
	v.SetDefault("server.max_proposed_bytes", service.MaxProposedBytes)
	v.SetDefault("server.log_stage_timings", false)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may name a file or a directory to search
// for trialbyte.yaml; empty searches the working directory. A missing file
// is not an error. Environment variables such as TRIALBYTE_CLIENT_BASE_URL
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	explicitFile := false
	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
			v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
			explicitFile = true
		} else {
			v.AddConfigPath(path)
		}
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitFile || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	switch reviewlite.DrugUpdateMode(c.Client.DrugUpdateMode) {
	case reviewlite.DrugUpdateNewVersion, reviewlite.DrugUpdatePatch:
	default:
		return fmt.Errorf("client.drug_update_mode must be %q or %q, got %q",
			reviewlite.DrugUpdateNewVersion, reviewlite.DrugUpdatePatch, c.Client.DrugUpdateMode)
	}
	if c.Client.MutationTimeout <= 0 {
		return fmt.Errorf("client.mutation_timeout must be positive")
	}
	if c.Client.Namespace == "" || strings.Contains(c.Client.Namespace, ":") {
		return fmt.Errorf("client.namespace must be non-empty and contain no ':'")
	}
	if c.Server.MaxPageSize > 0 && c.Server.DefaultPageSize > c.Server.MaxPageSize {
		return fmt.Errorf("server.default_page_size (%d) exceeds server.max_page_size (%d)",
			c.Server.DefaultPageSize, c.Server.MaxPageSize)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ReviewLite converts the client section into a reviewlite.Config.
func (c ClientConfig) ReviewLite() *reviewlite.Config {
	return &reviewlite.Config{
		Namespace:       c.Namespace,
		RequestTimeout:  c.RequestTimeout,
		MutationTimeout: c.MutationTimeout,
		ProbeTimeout:    c.ProbeTimeout,
		DrugUpdateMode:  reviewlite.DrugUpdateMode(c.DrugUpdateMode),
		AutoReconcile:   c.AutoReconcile,
		BackoffMin:      c.BackoffMin,
		BackoffMax:      c.BackoffMax,
	}
}

// Service converts the server section into a reviewq.ServiceConfig.
func (s ServerConfig) Service() *reviewq.ServiceConfig {
	cfg := reviewq.DefaultServiceConfig()
	cfg.DefaultPageSize = s.DefaultPageSize
	cfg.MaxPageSize = s.MaxPageSize
	cfg.MaxProposedBytes = s.MaxProposedBytes
	cfg.LogStageTimings = s.LogStageTimings
	return cfg
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(w io.Writer, cfg LogConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
