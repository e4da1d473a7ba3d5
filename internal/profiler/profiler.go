// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profiler measures model quality and speed with probe prompts.
//
// QuickProfile runs a small fixed probe set against a generation endpoint,
// grades the answers with cheap substring checks, and maps latency onto a
// 0-1 speed score. The result seeds the routing engine's capability scores,
// replacing the neutral defaults assigned at discovery.
package profiler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// GENERATOR INTERFACE
// ============================================================================

// Generator produces a completion for a prompt on a named model.
// Implemented by the provider client.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

// ============================================================================
// PROBES
// ============================================================================

// probe is one graded test prompt.
type probe struct {
	// category attributes the grade to a capability score.
	category routing.PromptCategory
	// prompt is sent verbatim to the model.
	prompt string
	// accept are lowercase substrings; any one present grades 1.0.
	accept []string
}

// quickProbes is the fixed probe set for QuickProfile. Small on purpose:
// profiling runs against live models and each probe costs a generation.
var quickProbes = []probe{
	{
		category: routing.CategoryCoding,
		prompt:   "Write a Go function named Add that returns the sum of two ints. Reply with code only.",
		accept:   []string{"func add", "return a + b", "a+b"},
	},
	{
		category: routing.CategoryReasoning,
		prompt:   "If all widgets are gadgets and no gadgets are gizmos, can a widget be a gizmo? Answer yes or no.",
		accept:   []string{"no"},
	},
	{
		category: routing.CategoryCreative,
		prompt:   "Write a single sentence that mentions a lighthouse and a storm.",
		accept:   []string{"lighthouse"},
	},
	{
		category: routing.CategoryMath,
		prompt:   "What is 17 * 23? Reply with the number only.",
		accept:   []string{"391"},
	},
}

// Latency-to-speed mapping: meanLatency <= fastLatency scores 1.0,
// >= slowLatency scores 0.1, linear in between.
const (
	fastLatency = 500 * time.Millisecond
	slowLatency = 10 * time.Second
	minSpeed    = 0.1
)

// ============================================================================
// PROFILER
// ============================================================================

// Quick profiles models with the fixed probe set.
type Quick struct {
	gen Generator
	// now/since are swappable for deterministic latency tests.
	now   func() time.Time
	since func(time.Time) time.Duration
}

// New creates a profiler over the given generator.
func New(gen Generator) *Quick {
	return &Quick{
		gen:   gen,
		now:   time.Now,
		since: time.Since,
	}
}

// QuickProfile probes one model and returns its empirical profile.
// A probe error aborts the profile for this model: the caller (the engine's
// batch profiling) logs and skips it without touching the other models.
func (q *Quick) QuickProfile(ctx context.Context, provider, modelID string) (routing.Profile, error) {
	if q.gen == nil {
		return routing.Profile{}, fmt.Errorf("profiler: no generator configured")
	}

	grades := make(map[routing.PromptCategory]float64, len(quickProbes))
	var totalLatency time.Duration
	var gradeSum float64

	for _, p := range quickProbes {
		start := q.now()
		answer, err := q.gen.Generate(ctx, modelID, p.prompt)
		if err != nil {
			return routing.Profile{}, fmt.Errorf("probe %s on %s: %w", p.category, modelID, err)
		}
		totalLatency += q.since(start)

		grade := gradeAnswer(answer, p.accept)
		grades[p.category] = grade
		gradeSum += grade
	}

	meanLatency := totalLatency / time.Duration(len(quickProbes))
	profile := routing.Profile{
		SpeedScore:     speedFromLatency(meanLatency),
		OverallQuality: gradeSum / float64(len(quickProbes)),
		CodingScore:    grades[routing.CategoryCoding],
		ReasoningScore: grades[routing.CategoryReasoning],
		CreativeScore:  grades[routing.CategoryCreative],
		MathScore:      grades[routing.CategoryMath],
		MeasuredAt:     q.now(),
	}

	log.Printf("PROFILER: %s/%s quality=%.2f speed=%.2f mean_latency=%v",
		provider, modelID, profile.OverallQuality, profile.SpeedScore, meanLatency)
	return profile, nil
}

// gradeAnswer grades a probe answer: 1.0 if any accepted substring is
// present, 0.0 for an empty answer, 0.2 otherwise (answered but wrong).
func gradeAnswer(answer string, accept []string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0.0
	}
	lower := strings.ToLower(trimmed)
	for _, want := range accept {
		if strings.Contains(lower, want) {
			return 1.0
		}
	}
	return 0.2
}

// speedFromLatency maps mean probe latency to a 0-1 speed score.
func speedFromLatency(mean time.Duration) float64 {
	if mean <= fastLatency {
		return 1.0
	}
	if mean >= slowLatency {
		return minSpeed
	}
	// Linear interpolation between the fast and slow anchors.
	span := float64(slowLatency - fastLatency)
	frac := float64(mean-fastLatency) / span
	return 1.0 - frac*(1.0-minSpeed)
}
