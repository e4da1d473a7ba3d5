// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package routing provides prompt-aware model selection for the rigsched
// admission-control layer.
//
// Pipeline: prompt -> classification -> per-model weighted scoring ->
// best match (+ alternatives) -> cached decision.
//
// Focus: explainable routing decisions with an auditable score breakdown.
package routing

import (
	"fmt"
	"time"
)

// ============================================================================
// PROMPT CATEGORY
// ============================================================================

// PromptCategory represents the classified category of an incoming prompt.
// Drives which of a model's capability scores dominates the routing score.
type PromptCategory int

const (
	// CategoryGeneral represents general conversation or unclassified prompts.
	CategoryGeneral PromptCategory = iota
	// CategoryCoding represents code generation, refactoring, and debugging.
	CategoryCoding
	// CategoryReasoning represents multi-step logical reasoning.
	CategoryReasoning
	// CategoryCreative represents creative writing tasks.
	CategoryCreative
	// CategoryMath represents mathematical problem solving.
	CategoryMath
	// CategoryAnalysis represents data/document analysis tasks.
	CategoryAnalysis
	// CategoryTranslation represents language translation.
	CategoryTranslation
	// CategorySummarization represents condensing or summarizing text.
	CategorySummarization
)

// String returns the human-readable name of the category.
func (c PromptCategory) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryCoding:
		return "coding"
	case CategoryReasoning:
		return "reasoning"
	case CategoryCreative:
		return "creative"
	case CategoryMath:
		return "math"
	case CategoryAnalysis:
		return "analysis"
	case CategoryTranslation:
		return "translation"
	case CategorySummarization:
		return "summarization"
	default:
		return fmt.Sprintf("PromptCategory(%d)", c)
	}
}

// ParseCategory converts a category name back to a PromptCategory.
// Unknown names map to CategoryGeneral.
func ParseCategory(s string) PromptCategory {
	switch s {
	case "coding":
		return CategoryCoding
	case "reasoning":
		return CategoryReasoning
	case "creative":
		return CategoryCreative
	case "math":
		return CategoryMath
	case "analysis":
		return CategoryAnalysis
	case "translation":
		return CategoryTranslation
	case "summarization":
		return CategorySummarization
	default:
		return CategoryGeneral
	}
}

// ============================================================================
// COMPLEXITY
// ============================================================================

// Complexity represents the assessed difficulty of a prompt.
type Complexity int

const (
	// ComplexitySimple represents short, single-step prompts.
	ComplexitySimple Complexity = iota
	// ComplexityMedium represents prompts needing some context or steps.
	ComplexityMedium
	// ComplexityHard represents long or multi-step prompts that benefit
	// from a higher-quality model.
	ComplexityHard
)

// String returns the human-readable name of the complexity level.
func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityHard:
		return "hard"
	default:
		return fmt.Sprintf("Complexity(%d)", c)
	}
}

// ============================================================================
// QUALITY PREFERENCE
// ============================================================================

// QualityPreference expresses the operator's quality-vs-speed trade-off.
type QualityPreference int

const (
	// PreferBalanced weighs quality and speed equally.
	PreferBalanced QualityPreference = iota
	// PreferQuality favors higher-quality models.
	PreferQuality
	// PreferSpeed favors faster models.
	PreferSpeed
)

// String returns the human-readable name of the preference.
func (p QualityPreference) String() string {
	switch p {
	case PreferBalanced:
		return "balanced"
	case PreferQuality:
		return "quality"
	case PreferSpeed:
		return "speed"
	default:
		return fmt.Sprintf("QualityPreference(%d)", p)
	}
}

// ParsePreference converts a preference name back to a QualityPreference.
// Unknown names map to PreferBalanced.
func ParsePreference(s string) QualityPreference {
	switch s {
	case "quality":
		return PreferQuality
	case "speed":
		return PreferSpeed
	default:
		return PreferBalanced
	}
}

// ============================================================================
// CLASSIFICATION RESULT
// ============================================================================

// ClassificationResult is the output of the prompt classifier.
// Produced once per Route call; never persisted.
type ClassificationResult struct {
	// Category is the dominant prompt category.
	Category PromptCategory `json:"category"`
	// Complexity is the assessed difficulty.
	Complexity Complexity `json:"complexity"`
	// Confidence is the classifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Indicators lists the signal strings that matched.
	Indicators []string `json:"indicators,omitempty"`
	// SuggestedSkills lists capability tags the prompt likely needs
	// (e.g. "code_generation").
	SuggestedSkills []string `json:"suggested_skills,omitempty"`
}

// NeedsSkill reports whether the classification suggested the given
// capability tag.
func (c ClassificationResult) NeedsSkill(skill string) bool {
	for _, s := range c.SuggestedSkills {
		if s == skill {
			return true
		}
	}
	return false
}

// ============================================================================
// MODEL CONFIG
// ============================================================================

// ModelConfig describes a registered model and its capability scores.
// Owned by the engine's registry: created by RegisterModel, mutated in
// place by ProfileModels, removed by UnregisterModel.
type ModelConfig struct {
	// ModelID is the unique registry key.
	ModelID string `json:"model_id"`
	// Provider is the serving provider this model belongs to.
	Provider string `json:"provider"`
	// SupportsTools indicates tool/function calling support.
	SupportsTools bool `json:"supports_tools"`
	// SupportsVision indicates image input support.
	SupportsVision bool `json:"supports_vision"`
	// SupportsStreaming indicates streaming generation support.
	SupportsStreaming bool `json:"supports_streaming"`
	// ContextLength is the model's context window in tokens.
	ContextLength int `json:"context_length"`

	// Capability scores, each in 0-1. Seeded with defaults at discovery
	// and overwritten by profiling.
	CodingScore    float64 `json:"coding_score"`
	ReasoningScore float64 `json:"reasoning_score"`
	CreativeScore  float64 `json:"creative_score"`
	MathScore      float64 `json:"math_score"`
	QualityScore   float64 `json:"quality_score"`
	SpeedScore     float64 `json:"speed_score"`
}

// Clone returns a copy of the model config.
func (m *ModelConfig) Clone() ModelConfig {
	return *m
}

// ============================================================================
// PROFILE
// ============================================================================

// Profile is an empirical quality/speed snapshot of a model, produced by
// the profiler from timed probe prompts.
type Profile struct {
	// SpeedScore maps probe latency to 0-1 (higher is faster).
	SpeedScore float64 `json:"speed_score"`
	// OverallQuality is the mean probe grade in 0-1.
	OverallQuality float64 `json:"overall_quality"`
	// Per-category probe grades in 0-1.
	CodingScore    float64 `json:"coding_score"`
	ReasoningScore float64 `json:"reasoning_score"`
	CreativeScore  float64 `json:"creative_score"`
	MathScore      float64 `json:"math_score"`
	// MeasuredAt is when the profile was taken.
	MeasuredAt time.Time `json:"measured_at"`
}

// ============================================================================
// MODEL INFO (DISCOVERY)
// ============================================================================

// ModelInfo is the provider's view of an available model, consumed once
// at discovery time to seed the registry.
type ModelInfo struct {
	// ID is the provider-side model identifier.
	ID string `json:"id"`
	// SupportsTools indicates tool/function calling support.
	SupportsTools bool `json:"supports_tools"`
	// SupportsVision indicates image input support.
	SupportsVision bool `json:"supports_vision"`
	// SupportsStreaming indicates streaming generation support.
	SupportsStreaming bool `json:"supports_streaming"`
	// ContextLength is the model's context window in tokens.
	ContextLength int `json:"context_length"`
}

// ============================================================================
// ROUTING RESULT
// ============================================================================

// Alternative is a runner-up candidate from model selection.
type Alternative struct {
	// ModelID is the candidate's registry key.
	ModelID string `json:"model_id"`
	// Score is the candidate's routing score.
	Score float64 `json:"score"`
}

// RoutingResult is the full routing decision for a prompt.
// Immutable value returned to the caller; the cache stores it by value.
type RoutingResult struct {
	// ModelID is the selected model, empty when no model was selectable.
	ModelID string `json:"model_id"`
	// Provider is the selected model's provider.
	Provider string `json:"provider"`
	// Confidence is the decision confidence: the winning score for a
	// scored selection, 1.0 for a pinned model, 0.5 for the fallback,
	// 0 when routing degraded.
	Confidence float64 `json:"confidence"`
	// Category is the classified prompt category.
	Category PromptCategory `json:"category"`
	// Complexity is the classified prompt complexity.
	Complexity Complexity `json:"complexity"`
	// Reasoning explains the decision for observability/audit.
	Reasoning string `json:"reasoning"`
	// Alternatives holds up to 3 runner-up candidates.
	Alternatives []Alternative `json:"alternatives,omitempty"`
	// Cached indicates the result was served from the decision cache.
	Cached bool `json:"cached"`
	// Profile is an optional profile snapshot of the selected model.
	Profile *Profile `json:"profile,omitempty"`
}

// String returns a human-readable summary of the routing decision.
func (r RoutingResult) String() string {
	cacheStr := ""
	if r.Cached {
		cacheStr = " [CACHED]"
	}
	return fmt.Sprintf("%s%s (category=%s, complexity=%s, confidence=%.2f): %s",
		r.ModelID, cacheStr, r.Category, r.Complexity, r.Confidence, r.Reasoning)
}

// ============================================================================
// ROUTER CONFIG
// ============================================================================

// RouterConfig holds the engine's routing policy.
type RouterConfig struct {
	// Enabled toggles routing; when false every Route call returns a
	// degraded result immediately.
	Enabled bool
	// Provider is the provider name used for discovery and results.
	Provider string
	// QualityPreference is the operator's quality-vs-speed trade-off.
	QualityPreference QualityPreference
	// PinnedModel, when set, is returned for every prompt with
	// confidence 1.0, bypassing cache and classification.
	PinnedModel string
	// FallbackModel is returned with confidence 0.5 when no registered
	// model survives filtering.
	FallbackModel string
	// ExcludedModels are never considered during selection.
	ExcludedModels []string
	// IncludedModels, when non-empty, restricts selection to this set.
	IncludedModels []string
	// CacheEnabled toggles the routing decision cache.
	CacheEnabled bool
	// CacheMaxSize is the cache's entry capacity.
	CacheMaxSize int
	// CacheTTL is how long a cached decision stays valid.
	CacheTTL time.Duration
	// MinSpeedScore penalizes models below this speed score by x0.5.
	MinSpeedScore float64
	// MinQualityScore penalizes models below this quality score by x0.5.
	MinQualityScore float64
	// ProfilingTimeout bounds each per-model profiling call.
	ProfilingTimeout time.Duration
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Enabled:           true,
		Provider:          "ollama",
		QualityPreference: PreferBalanced,
		CacheEnabled:      true,
		CacheMaxSize:      1000,
		CacheTTL:          time.Hour,
		MinSpeedScore:     0.0,
		MinQualityScore:   0.0,
		ProfilingTimeout:  60 * time.Second,
	}
}
