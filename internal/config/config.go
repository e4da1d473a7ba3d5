// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for rigsched.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation. Loading
// layers defaults, then the file, then RIGSCHED_* overrides. There is
// no package-level config instance: main loads one Config and hands
// sections to the subsystems.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigsched/internal/gpu"
	"github.com/jeranaias/rigsched/internal/routing"
	"github.com/jeranaias/rigsched/internal/util"
)

// ============================================================================
// CONFIG STRUCTURES
// ============================================================================

// Config represents the complete rigsched configuration.
type Config struct {
	// Router configures the routing engine.
	Router RouterSection `toml:"router" json:"router"`

	// GPU configures the GPU manager.
	GPU GPUSection `toml:"gpu" json:"gpu"`

	// Provider configures the model provider client.
	Provider ProviderSection `toml:"provider" json:"provider"`

	// Server configures the HTTP API.
	Server ServerSection `toml:"server" json:"server"`

	// History configures the decision audit log.
	History HistorySection `toml:"history" json:"history"`

	// Telemetry configures the GPU telemetry source.
	Telemetry TelemetrySection `toml:"telemetry" json:"telemetry"`
}

// RouterSection contains routing engine configuration.
type RouterSection struct {
	// Enabled toggles automatic routing. When false every route returns
	// the fallback model.
	Enabled bool `toml:"enabled" json:"enabled"`
	// Provider is the model provider name reported in decisions.
	Provider string `toml:"provider" json:"provider"`
	// QualityPreference is "quality", "speed", or "balanced".
	QualityPreference string `toml:"quality_preference" json:"quality_preference"`
	// PinnedModel forces all routing to one model when set.
	PinnedModel string `toml:"pinned_model" json:"pinned_model"`
	// FallbackModel is used when no candidate survives filtering.
	FallbackModel string `toml:"fallback_model" json:"fallback_model"`
	// ExcludedModels are never selected.
	ExcludedModels []string `toml:"excluded_models" json:"excluded_models"`
	// IncludedModels, when non-empty, is an allowlist.
	IncludedModels []string `toml:"included_models" json:"included_models"`
	// CacheEnabled toggles the decision cache.
	CacheEnabled bool `toml:"cache_enabled" json:"cache_enabled"`
	// CacheMaxSize bounds the decision cache entry count.
	CacheMaxSize int `toml:"cache_max_size" json:"cache_max_size"`
	// CacheTTLSeconds is the decision cache entry lifetime.
	CacheTTLSeconds int `toml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	// MinSpeedScore penalizes models below this speed score (0 = off).
	MinSpeedScore float64 `toml:"min_speed_score" json:"min_speed_score"`
	// MinQualityScore penalizes models below this quality score (0 = off).
	MinQualityScore float64 `toml:"min_quality_score" json:"min_quality_score"`
	// ProfilingTimeoutSeconds bounds each model's profiling run.
	ProfilingTimeoutSeconds int `toml:"profiling_timeout_seconds" json:"profiling_timeout_seconds"`
}

// GPUSection contains GPU manager configuration.
type GPUSection struct {
	// Strategy is "auto", "round_robin", "pack", "spread", or "manual".
	Strategy string `toml:"strategy" json:"strategy"`
	// VRAMThresholdPercent rejects devices above this memory usage.
	VRAMThresholdPercent float64 `toml:"vram_threshold_percent" json:"vram_threshold_percent"`
	// AllowSharedGPU permits multiple models per device.
	AllowSharedGPU bool `toml:"allow_shared_gpu" json:"allow_shared_gpu"`
	// AutoUnload marks idle models as eviction candidates.
	AutoUnload bool `toml:"auto_unload" json:"auto_unload"`
	// ReservedVRAMGB is headroom kept free on every device.
	ReservedVRAMGB float64 `toml:"reserved_vram_gb" json:"reserved_vram_gb"`
}

// ProviderSection contains model provider client configuration.
type ProviderSection struct {
	// BaseURL is the provider API base URL.
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSeconds is the per-request timeout.
	TimeoutSeconds int `toml:"timeout_seconds" json:"timeout_seconds"`
	// MaxRetries for transient failures.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// ServerSection contains HTTP API configuration.
type ServerSection struct {
	// ListenAddr is the host:port to bind.
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
	// AuthEnabled requires a bearer token on all API routes.
	AuthEnabled bool `toml:"auth_enabled" json:"auth_enabled"`
	// BearerToken is the expected token when auth is enabled.
	BearerToken string `toml:"bearer_token" json:"bearer_token"`
	// RateLimitPerSecond is the sustained request rate per server.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second" json:"rate_limit_per_second"`
	// RateLimitBurst is the burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// HistorySection contains decision log configuration.
type HistorySection struct {
	// Enabled toggles decision recording.
	Enabled bool `toml:"enabled" json:"enabled"`
	// DatabasePath is the SQLite file location.
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// TelemetrySection contains GPU telemetry configuration.
type TelemetrySection struct {
	// Source is "nvidia" (nvidia-smi polling) or "none" (GPU-less host).
	Source string `toml:"source" json:"source"`
}

// ============================================================================
// DEFAULTS
// ============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Router: RouterSection{
			Enabled:                 true,
			Provider:                "ollama",
			QualityPreference:       "balanced",
			CacheEnabled:            true,
			CacheMaxSize:            1000,
			CacheTTLSeconds:         3600,
			ProfilingTimeoutSeconds: 60,
		},
		GPU: GPUSection{
			Strategy:             "auto",
			VRAMThresholdPercent: 90.0,
			AllowSharedGPU:       true,
			ReservedVRAMGB:       1.0,
		},
		Provider: ProviderSection{
			BaseURL:        "http://127.0.0.1:11434",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Server: ServerSection{
			ListenAddr:         "127.0.0.1:8090",
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		History: HistorySection{
			Enabled:      true,
			DatabasePath: "rigsched-history.db",
		},
		Telemetry: TelemetrySection{
			Source: "nvidia",
		},
	}
}

// fillDefaults repairs zero values that have no valid zero meaning.
// Booleans are left alone: decoding starts from Default, so absent keys
// already carry their defaults.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Router.Provider == "" {
		c.Router.Provider = d.Router.Provider
	}
	if c.Router.QualityPreference == "" {
		c.Router.QualityPreference = d.Router.QualityPreference
	}
	if c.Router.CacheMaxSize <= 0 {
		c.Router.CacheMaxSize = d.Router.CacheMaxSize
	}
	if c.Router.CacheTTLSeconds <= 0 {
		c.Router.CacheTTLSeconds = d.Router.CacheTTLSeconds
	}
	if c.Router.ProfilingTimeoutSeconds <= 0 {
		c.Router.ProfilingTimeoutSeconds = d.Router.ProfilingTimeoutSeconds
	}
	if c.GPU.Strategy == "" {
		c.GPU.Strategy = d.GPU.Strategy
	}
	if c.GPU.VRAMThresholdPercent <= 0 {
		c.GPU.VRAMThresholdPercent = d.GPU.VRAMThresholdPercent
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = d.Provider.BaseURL
	}
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = d.Provider.TimeoutSeconds
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = d.Server.ListenAddr
	}
	if c.Server.RateLimitPerSecond <= 0 {
		c.Server.RateLimitPerSecond = d.Server.RateLimitPerSecond
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = d.Server.RateLimitBurst
	}
	if c.History.DatabasePath == "" {
		c.History.DatabasePath = d.History.DatabasePath
	}
	if c.Telemetry.Source == "" {
		c.Telemetry.Source = d.Telemetry.Source
	}
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads the config at path, layering file values over defaults and
// environment overrides over both. A missing file yields defaults. The
// format is chosen by extension: .json decodes as JSON, everything else
// as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file: defaults plus env overrides.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if strings.EqualFold(filepath.Ext(path), ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		} else {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing TOML config %s: %w", path, err)
			}
		}
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies RIGSCHED_* environment variables on top of
// the loaded values, for deploy-time tweaks without editing the file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGSCHED_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("RIGSCHED_BEARER_TOKEN"); v != "" {
		c.Server.BearerToken = v
		c.Server.AuthEnabled = true
	}
	if v := os.Getenv("RIGSCHED_PROVIDER_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("RIGSCHED_PINNED_MODEL"); v != "" {
		c.Router.PinnedModel = v
	}
	if v := os.Getenv("RIGSCHED_STRATEGY"); v != "" {
		c.GPU.Strategy = v
	}
	if v := os.Getenv("RIGSCHED_HISTORY_PATH"); v != "" {
		c.History.DatabasePath = v
	}
	if v := os.Getenv("RIGSCHED_DISABLE_CACHE"); v == "1" || strings.EqualFold(v, "true") {
		c.Router.CacheEnabled = false
	}
}

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationError describes one invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the whole config and returns every violation at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Router.QualityPreference {
	case "quality", "speed", "balanced":
	default:
		errs = append(errs, ValidationError{
			Field:   "router.quality_preference",
			Message: fmt.Sprintf("must be quality, speed, or balanced (got %q)", c.Router.QualityPreference),
		})
	}
	if c.Router.MinSpeedScore < 0 || c.Router.MinSpeedScore > 1 {
		errs = append(errs, ValidationError{Field: "router.min_speed_score", Message: "must be in [0,1]"})
	}
	if c.Router.MinQualityScore < 0 || c.Router.MinQualityScore > 1 {
		errs = append(errs, ValidationError{Field: "router.min_quality_score", Message: "must be in [0,1]"})
	}

	if _, err := gpu.ParseStrategy(c.GPU.Strategy); err != nil {
		errs = append(errs, ValidationError{Field: "gpu.strategy", Message: err.Error()})
	}
	if c.GPU.VRAMThresholdPercent <= 0 || c.GPU.VRAMThresholdPercent > 100 {
		errs = append(errs, ValidationError{Field: "gpu.vram_threshold_percent", Message: "must be in (0,100]"})
	}
	if c.GPU.ReservedVRAMGB < 0 {
		errs = append(errs, ValidationError{Field: "gpu.reserved_vram_gb", Message: "must be >= 0"})
	}

	if c.Server.AuthEnabled && c.Server.BearerToken == "" {
		errs = append(errs, ValidationError{Field: "server.bearer_token", Message: "required when auth is enabled"})
	}

	switch c.Telemetry.Source {
	case "nvidia", "none":
	default:
		errs = append(errs, ValidationError{
			Field:   "telemetry.source",
			Message: fmt.Sprintf("must be nvidia or none (got %q)", c.Telemetry.Source),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ============================================================================
// CONVERTERS
// ============================================================================

// RouterConfig converts the router section to the engine's config type.
// Call only on a validated config.
func (c *Config) RouterConfig() routing.RouterConfig {
	return routing.RouterConfig{
		Enabled:           c.Router.Enabled,
		Provider:          c.Router.Provider,
		QualityPreference: routing.ParsePreference(c.Router.QualityPreference),
		PinnedModel:       c.Router.PinnedModel,
		FallbackModel:     c.Router.FallbackModel,
		ExcludedModels:    append([]string(nil), c.Router.ExcludedModels...),
		IncludedModels:    append([]string(nil), c.Router.IncludedModels...),
		CacheEnabled:      c.Router.CacheEnabled,
		CacheMaxSize:      c.Router.CacheMaxSize,
		CacheTTL:          time.Duration(c.Router.CacheTTLSeconds) * time.Second,
		MinSpeedScore:     c.Router.MinSpeedScore,
		MinQualityScore:   c.Router.MinQualityScore,
		ProfilingTimeout:  time.Duration(c.Router.ProfilingTimeoutSeconds) * time.Second,
	}
}

// GPUConfig converts the gpu section to the manager's config type.
// Validate has already rejected an unparseable strategy, so the parse
// error is discarded here.
func (c *Config) GPUConfig() gpu.Config {
	strategy, _ := gpu.ParseStrategy(c.GPU.Strategy)
	return gpu.Config{
		Strategy:             strategy,
		VRAMThresholdPercent: c.GPU.VRAMThresholdPercent,
		AllowSharedGPU:       c.GPU.AllowSharedGPU,
		AutoUnload:           c.GPU.AutoUnload,
		ReservedVRAMGB:       c.GPU.ReservedVRAMGB,
	}
}

// ============================================================================
// SAVING
// ============================================================================

// SaveTOML writes the config atomically with restrictive permissions.
// The bearer token may be present, hence 0600.
func (c *Config) SaveTOML(path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigsched configuration\n")
	buf.WriteString("# Generated file; comments are not preserved across saves.\n\n")
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Router.ExcludedModels = append([]string(nil), c.Router.ExcludedModels...)
	clone.Router.IncludedModels = append([]string(nil), c.Router.IncludedModels...)
	return &clone
}

// String renders the config for logs with the bearer token redacted.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.Server.BearerToken != "" {
		redacted.Server.BearerToken = "[REDACTED]"
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("Config(marshal error: %v)", err)
	}
	return string(data)
}
