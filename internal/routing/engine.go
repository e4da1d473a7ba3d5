// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package routing

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// ============================================================================
// COLLABORATOR INTERFACES
// ============================================================================

// Classifier maps prompt text to a category, complexity, and capability tags.
type Classifier interface {
	Classify(prompt string) ClassificationResult
}

// Profiler produces empirical quality/speed scores for a model.
type Profiler interface {
	QuickProfile(ctx context.Context, provider, modelID string) (Profile, error)
}

// Provider lists the models available for discovery.
type Provider interface {
	Models(ctx context.Context) ([]ModelInfo, error)
}

// ============================================================================
// SCORING WEIGHTS
// ============================================================================

// Scoring weights. The category term dominates; preference and complexity
// refine it; the capability bonus can push a score above 1.0 (scores are
// deliberately not clamped).
const (
	categoryWeight   = 0.4
	preferenceWeight = 0.3
	balancedWeight   = 0.15
	complexityWeight = 0.2
	toolsBonus       = 0.1
	thresholdPenalty = 0.5
	fallbackCatScore = 0.5
	discoveryScore   = 0.5
	maxAlternatives  = 3
	skillCodeGen     = "code_generation"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine orchestrates classification, scoring, caching, and model-registry
// CRUD. Construct one per process with NewEngine and pass it by reference;
// there is no package-level instance.
//
// Registry CRUD assumes a single logical caller and is not concurrency
// guarded; Route, discovery, and config swaps are safe for concurrent use.
type Engine struct {
	classifier Classifier
	profiler   Profiler
	provider   Provider

	cfgMu sync.RWMutex
	cfg   RouterConfig

	cache  *SemanticCache
	models map[string]*ModelConfig

	// initOnce makes first-use model discovery single-flight: concurrent
	// first callers share one discovery pass.
	initOnce sync.Once
}

// EngineStats is an observability snapshot of the engine.
type EngineStats struct {
	Models        int        `json:"models"`
	Cache         CacheStats `json:"cache"`
	Enabled       bool       `json:"enabled"`
	CacheEnabled  bool       `json:"cache_enabled"`
	PinnedModel   string     `json:"pinned_model,omitempty"`
	FallbackModel string     `json:"fallback_model,omitempty"`
	Preference    string     `json:"preference"`
	Provider      string     `json:"provider"`
}

// NewEngine creates a routing engine. classifier is required; profiler and
// provider may be nil, disabling profiling and discovery respectively.
func NewEngine(cfg RouterConfig, classifier Classifier, profiler Profiler, provider Provider) *Engine {
	return &Engine{
		classifier: classifier,
		profiler:   profiler,
		provider:   provider,
		cfg:        cfg,
		cache:      NewSemanticCache(cfg.CacheMaxSize, cfg.CacheTTL),
		models:     make(map[string]*ModelConfig),
	}
}

// Config returns a copy of the current routing config.
func (e *Engine) Config() RouterConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetConfig swaps the routing config atomically. When the cache bounds
// change the cache is rebuilt, dropping prior entries.
func (e *Engine) SetConfig(cfg RouterConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if cfg.CacheMaxSize != e.cfg.CacheMaxSize || cfg.CacheTTL != e.cfg.CacheTTL {
		e.cache = NewSemanticCache(cfg.CacheMaxSize, cfg.CacheTTL)
	}
	e.cfg = cfg
}

// decisionCache returns the cache under the config lock, so a concurrent
// SetConfig rebuild cannot hand out a stale pointer mid-swap.
func (e *Engine) decisionCache() *SemanticCache {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cache
}

// ============================================================================
// DISCOVERY
// ============================================================================

// initialize discovers models from the provider exactly once per engine.
// Discovered models get neutral 0.5 capability scores until profiled.
func (e *Engine) initialize(ctx context.Context) {
	e.initOnce.Do(func() {
		if e.provider == nil {
			return
		}
		cfg := e.Config()

		infos, err := e.provider.Models(ctx)
		if err != nil {
			log.Printf("ROUTING: model discovery failed: %v", err)
			return
		}

		for _, info := range infos {
			if _, exists := e.models[info.ID]; exists {
				continue
			}
			e.models[info.ID] = &ModelConfig{
				ModelID:           info.ID,
				Provider:          cfg.Provider,
				SupportsTools:     info.SupportsTools,
				SupportsVision:    info.SupportsVision,
				SupportsStreaming: info.SupportsStreaming,
				ContextLength:     info.ContextLength,
				CodingScore:       discoveryScore,
				ReasoningScore:    discoveryScore,
				CreativeScore:     discoveryScore,
				MathScore:         discoveryScore,
				QualityScore:      discoveryScore,
				SpeedScore:        discoveryScore,
			}
		}
		log.Printf("ROUTING: discovered %d models from provider %q", len(infos), cfg.Provider)
	})
}

// ============================================================================
// ROUTING
// ============================================================================

// Route produces a routing decision for the prompt. It never returns an
// error: a disabled router, an empty registry, or any other degraded state
// yields a valid RoutingResult with a lower confidence instead.
func (e *Engine) Route(ctx context.Context, prompt string) RoutingResult {
	e.initialize(ctx)
	cfg := e.Config()

	if !cfg.Enabled {
		return RoutingResult{
			Confidence: 0,
			Reasoning:  "router disabled",
		}
	}

	// A pinned model bypasses cache and classification entirely.
	if cfg.PinnedModel != "" {
		result := RoutingResult{
			ModelID:    cfg.PinnedModel,
			Provider:   cfg.Provider,
			Confidence: 1.0,
			Reasoning:  fmt.Sprintf("pinned to %s", cfg.PinnedModel),
		}
		if m, ok := e.models[cfg.PinnedModel]; ok {
			result.Provider = m.Provider
		}
		return result
	}

	if cfg.CacheEnabled {
		if cached, ok := e.decisionCache().Get(prompt); ok {
			return cached
		}
	}

	classification := e.classifier.Classify(prompt)
	result := e.SelectModel(prompt, classification)

	log.Printf("ROUTING: prompt=%q category=%s complexity=%s -> model=%s confidence=%.2f",
		truncateForLog(prompt, 50), classification.Category, classification.Complexity,
		result.ModelID, result.Confidence)

	if cfg.CacheEnabled {
		e.decisionCache().Set(prompt, result)
	}
	return result
}

// SelectModel filters the registry, scores every surviving model against
// the classification, and returns the best match with up to 3 alternatives.
// With no surviving candidates it falls back to the configured fallback
// model (confidence 0.5) or a degraded empty result (confidence 0).
func (e *Engine) SelectModel(prompt string, classification ClassificationResult) RoutingResult {
	cfg := e.Config()

	type scored struct {
		model     *ModelConfig
		score     float64
		reasoning string
	}

	candidates := make([]scored, 0, len(e.models))
	for id, m := range e.models {
		if containsString(cfg.ExcludedModels, id) {
			continue
		}
		if len(cfg.IncludedModels) > 0 && !containsString(cfg.IncludedModels, id) {
			continue
		}
		score, parts := e.ScoreModel(m, classification)
		candidates = append(candidates, scored{
			model:     m,
			score:     score,
			reasoning: strings.Join(parts, "; "),
		})
	}

	if len(candidates) == 0 {
		if cfg.FallbackModel != "" {
			return RoutingResult{
				ModelID:    cfg.FallbackModel,
				Provider:   cfg.Provider,
				Confidence: 0.5,
				Category:   classification.Category,
				Complexity: classification.Complexity,
				Reasoning:  "no candidate models, using fallback",
			}
		}
		return RoutingResult{
			Confidence: 0,
			Category:   classification.Category,
			Complexity: classification.Complexity,
			Reasoning:  "no candidate models",
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].model.ModelID < candidates[j].model.ModelID
	})

	best := candidates[0]
	alternatives := make([]Alternative, 0, maxAlternatives)
	for _, c := range candidates[1:] {
		if len(alternatives) == maxAlternatives {
			break
		}
		alternatives = append(alternatives, Alternative{
			ModelID: c.model.ModelID,
			Score:   c.score,
		})
	}

	return RoutingResult{
		ModelID:      best.model.ModelID,
		Provider:     best.model.Provider,
		Confidence:   best.score,
		Category:     classification.Category,
		Complexity:   classification.Complexity,
		Reasoning:    fmt.Sprintf("%s: score %.3f (%s)", best.model.ModelID, best.score, best.reasoning),
		Alternatives: alternatives,
	}
}

// ScoreModel computes the weighted routing score of one model against a
// classification. Returns the score and the ordered list of triggered
// factors for the audit trail.
//
// Score = category*0.4 + preference term + complexity term + tools bonus,
// then multiplied by 0.5 for each violated minimum threshold. Both
// thresholds can fire on the same model, compounding to x0.25. The score
// is not clamped and can exceed 1.0 before penalties.
func (e *Engine) ScoreModel(m *ModelConfig, classification ClassificationResult) (float64, []string) {
	cfg := e.Config()
	parts := make([]string, 0, 5)

	catScore := categoryScore(m, classification.Category)
	score := catScore * categoryWeight
	parts = append(parts, fmt.Sprintf("category %s: %.2f", classification.Category, catScore))

	switch cfg.QualityPreference {
	case PreferQuality:
		score += m.QualityScore * preferenceWeight
		parts = append(parts, fmt.Sprintf("quality preference: %.2f", m.QualityScore))
	case PreferSpeed:
		score += m.SpeedScore * preferenceWeight
		parts = append(parts, fmt.Sprintf("speed preference: %.2f", m.SpeedScore))
	case PreferBalanced:
		score += (m.QualityScore + m.SpeedScore) * balancedWeight
		parts = append(parts, fmt.Sprintf("balanced: quality %.2f, speed %.2f", m.QualityScore, m.SpeedScore))
	}

	switch classification.Complexity {
	case ComplexityHard:
		score += m.QualityScore * complexityWeight
		parts = append(parts, fmt.Sprintf("hard prompt favors quality: %.2f", m.QualityScore))
	case ComplexitySimple:
		score += m.SpeedScore * complexityWeight
		parts = append(parts, fmt.Sprintf("simple prompt favors speed: %.2f", m.SpeedScore))
	case ComplexityMedium:
		// No complexity term for medium prompts.
	}

	if classification.NeedsSkill(skillCodeGen) && m.SupportsTools {
		score += toolsBonus
		parts = append(parts, "tool support bonus")
	}

	// Each violated minimum halves the score; both compound to x0.25.
	if m.SpeedScore < cfg.MinSpeedScore {
		score *= thresholdPenalty
		parts = append(parts, fmt.Sprintf("below min speed %.2f", cfg.MinSpeedScore))
	}
	if m.QualityScore < cfg.MinQualityScore {
		score *= thresholdPenalty
		parts = append(parts, fmt.Sprintf("below min quality %.2f", cfg.MinQualityScore))
	}

	return score, parts
}

// categoryScore maps a prompt category to the model capability score it
// should be judged by. Out-of-range categories fall back to 0.5.
func categoryScore(m *ModelConfig, category PromptCategory) float64 {
	switch category {
	case CategoryCoding:
		return m.CodingScore
	case CategoryReasoning, CategoryAnalysis:
		return m.ReasoningScore
	case CategoryCreative:
		return m.CreativeScore
	case CategoryMath:
		return m.MathScore
	case CategoryGeneral, CategoryTranslation, CategorySummarization:
		return m.QualityScore
	default:
		return fallbackCatScore
	}
}

// ============================================================================
// REGISTRY CRUD
// ============================================================================

// RegisterModel adds or replaces a model in the registry.
func (e *Engine) RegisterModel(m ModelConfig) {
	e.models[m.ModelID] = &m
}

// UnregisterModel removes a model from the registry.
// Returns false if the model was not registered.
func (e *Engine) UnregisterModel(modelID string) bool {
	if _, ok := e.models[modelID]; !ok {
		return false
	}
	delete(e.models, modelID)
	return true
}

// GetModel returns a copy of a registered model.
func (e *Engine) GetModel(modelID string) (ModelConfig, bool) {
	m, ok := e.models[modelID]
	if !ok {
		return ModelConfig{}, false
	}
	return m.Clone(), true
}

// ListModels returns copies of all registered models, sorted by ID.
func (e *Engine) ListModels() []ModelConfig {
	out := make([]ModelConfig, 0, len(e.models))
	for _, m := range e.models {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// ============================================================================
// PROFILING
// ============================================================================

// ProfileModels profiles every registered model and overwrites its
// capability scores in place. A failure on one model is logged and skipped
// so it cannot block profiling of the rest. Returns the successful profiles
// keyed by model ID.
func (e *Engine) ProfileModels(ctx context.Context) map[string]Profile {
	results := make(map[string]Profile)
	if e.profiler == nil {
		return results
	}
	cfg := e.Config()

	for id, m := range e.models {
		profileCtx := ctx
		var cancel context.CancelFunc
		if cfg.ProfilingTimeout > 0 {
			profileCtx, cancel = context.WithTimeout(ctx, cfg.ProfilingTimeout)
		}

		profile, err := e.profiler.QuickProfile(profileCtx, m.Provider, id)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			log.Printf("ROUTING: profiling %s failed: %v", id, err)
			continue
		}

		m.SpeedScore = profile.SpeedScore
		m.QualityScore = profile.OverallQuality
		m.CodingScore = profile.CodingScore
		m.ReasoningScore = profile.ReasoningScore
		m.CreativeScore = profile.CreativeScore
		m.MathScore = profile.MathScore
		results[id] = profile
	}
	return results
}

// ============================================================================
// OBSERVABILITY
// ============================================================================

// Stats returns an observability snapshot of the engine.
func (e *Engine) Stats() EngineStats {
	cfg := e.Config()
	return EngineStats{
		Models:        len(e.models),
		Cache:         e.decisionCache().Stats(),
		Enabled:       cfg.Enabled,
		CacheEnabled:  cfg.CacheEnabled,
		PinnedModel:   cfg.PinnedModel,
		FallbackModel: cfg.FallbackModel,
		Preference:    cfg.QualityPreference.String(),
		Provider:      cfg.Provider,
	}
}

// ClearCache drops all cached routing decisions.
func (e *Engine) ClearCache() {
	e.decisionCache().Clear()
}

// ============================================================================
// HELPERS
// ============================================================================

// containsString reports whether list contains s.
func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// truncateForLog truncates a string to maxLen characters for logging.
// Adds "..." suffix if truncated.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
