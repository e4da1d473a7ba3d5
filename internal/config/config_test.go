// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigsched/internal/gpu"
	"github.com/jeranaias/rigsched/internal/routing"
)

func writeTestConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Router.Enabled {
		t.Error("router should default to enabled")
	}
	if cfg.Router.CacheMaxSize != 1000 {
		t.Errorf("CacheMaxSize = %d, want 1000", cfg.Router.CacheMaxSize)
	}
	if cfg.GPU.Strategy != "auto" {
		t.Errorf("Strategy = %q, want auto", cfg.GPU.Strategy)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8090" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoadTOMLOverlaysDefaults(t *testing.T) {
	path := writeTestConfig(t, "config.toml", `
[router]
quality_preference = "speed"
pinned_model = "llama3:8b"

[gpu]
strategy = "pack"
reserved_vram_gb = 2.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.QualityPreference != "speed" {
		t.Errorf("QualityPreference = %q", cfg.Router.QualityPreference)
	}
	if cfg.Router.PinnedModel != "llama3:8b" {
		t.Errorf("PinnedModel = %q", cfg.Router.PinnedModel)
	}
	if cfg.GPU.Strategy != "pack" {
		t.Errorf("Strategy = %q", cfg.GPU.Strategy)
	}
	if cfg.GPU.ReservedVRAMGB != 2.5 {
		t.Errorf("ReservedVRAMGB = %v", cfg.GPU.ReservedVRAMGB)
	}
	// Untouched sections keep defaults.
	if cfg.Router.CacheMaxSize != 1000 {
		t.Errorf("CacheMaxSize = %d, want default 1000", cfg.Router.CacheMaxSize)
	}
	if cfg.Provider.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL = %q, want default", cfg.Provider.BaseURL)
	}
}

func TestLoadJSONFallback(t *testing.T) {
	path := writeTestConfig(t, "config.json", `{
		"router": {"enabled": true, "quality_preference": "quality"},
		"gpu": {"strategy": "spread", "vram_threshold_percent": 80}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.QualityPreference != "quality" {
		t.Errorf("QualityPreference = %q", cfg.Router.QualityPreference)
	}
	if cfg.GPU.Strategy != "spread" || cfg.GPU.VRAMThresholdPercent != 80 {
		t.Errorf("gpu section = %+v", cfg.GPU)
	}
}

func TestLoadRejectsInvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "config.toml", `[router` /* unterminated */)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIGSCHED_LISTEN_ADDR", "0.0.0.0:9999")
	t.Setenv("RIGSCHED_BEARER_TOKEN", "sekrit")
	t.Setenv("RIGSCHED_STRATEGY", "round_robin")
	t.Setenv("RIGSCHED_DISABLE_CACHE", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if !cfg.Server.AuthEnabled || cfg.Server.BearerToken != "sekrit" {
		t.Error("bearer token override should enable auth")
	}
	if cfg.GPU.Strategy != "round_robin" {
		t.Errorf("Strategy = %q", cfg.GPU.Strategy)
	}
	if cfg.Router.CacheEnabled {
		t.Error("RIGSCHED_DISABLE_CACHE=1 should disable the cache")
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := Default()
	cfg.Router.QualityPreference = "fastest"
	cfg.GPU.Strategy = "bogus"
	cfg.GPU.VRAMThresholdPercent = 150
	cfg.Server.AuthEnabled = true
	cfg.Server.BearerToken = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var errs ValidateErrors
	if !errors.As(err, &errs) {
		t.Fatalf("error type = %T, want ValidateErrors", err)
	}
	if len(errs) != 4 {
		t.Errorf("violations = %d, want 4: %v", len(errs), errs)
	}

	fields := map[string]bool{}
	for _, ve := range errs {
		fields[ve.Field] = true
	}
	for _, want := range []string{
		"router.quality_preference",
		"gpu.strategy",
		"gpu.vram_threshold_percent",
		"server.bearer_token",
	} {
		if !fields[want] {
			t.Errorf("missing violation for %s", want)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestRouterConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Router.QualityPreference = "speed"
	cfg.Router.CacheTTLSeconds = 120
	cfg.Router.ExcludedModels = []string{"broken:model"}

	rc := cfg.RouterConfig()
	if rc.QualityPreference != routing.PreferSpeed {
		t.Errorf("QualityPreference = %v", rc.QualityPreference)
	}
	if rc.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v", rc.CacheTTL)
	}
	if len(rc.ExcludedModels) != 1 || rc.ExcludedModels[0] != "broken:model" {
		t.Errorf("ExcludedModels = %v", rc.ExcludedModels)
	}

	// The converted slice must be a copy.
	rc.ExcludedModels[0] = "mutated"
	if cfg.Router.ExcludedModels[0] != "broken:model" {
		t.Error("RouterConfig should deep-copy model lists")
	}
}

func TestGPUConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.GPU.Strategy = "spread"
	cfg.GPU.AllowSharedGPU = false

	gc := cfg.GPUConfig()
	if gc.Strategy != gpu.StrategySpread {
		t.Errorf("Strategy = %v", gc.Strategy)
	}
	if gc.AllowSharedGPU {
		t.Error("AllowSharedGPU should carry over")
	}
	if gc.VRAMThresholdPercent != 90 || gc.ReservedVRAMGB != 1.0 {
		t.Errorf("gpu config = %+v", gc)
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Router.PinnedModel = "qwen2.5:7b"
	cfg.GPU.Strategy = "pack"
	if err := cfg.SaveTOML(path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if loaded.Router.PinnedModel != "qwen2.5:7b" || loaded.GPU.Strategy != "pack" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestStringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Server.BearerToken = "super-secret-token"

	s := cfg.String()
	if strings.Contains(s, "super-secret-token") {
		t.Error("String() must not leak the bearer token")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark the redacted token")
	}
	// Redaction must not mutate the original.
	if cfg.Server.BearerToken != "super-secret-token" {
		t.Error("String() mutated the config")
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Router.IncludedModels = []string{"a", "b"}

	clone := cfg.Clone()
	clone.Router.IncludedModels[0] = "z"
	if cfg.Router.IncludedModels[0] != "a" {
		t.Error("Clone should copy model lists")
	}
}
