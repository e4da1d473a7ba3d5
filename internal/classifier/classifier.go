// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classifier provides rule-based prompt classification for routing.
//
// Uses keyword and regex signal tables per category plus word-count driven
// complexity. Deliberately cheap: classification runs on every uncached
// route call, so no model inference or embeddings are involved.
package classifier

import (
	"strings"

	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// CLASSIFIER
// ============================================================================

// Confidence bounds for signal-count based scoring.
const (
	baseConfidence = 0.5
	perHitBoost    = 0.1
	maxConfidence  = 0.95
	// defaultConfidence is reported when no signal matched at all.
	defaultConfidence = 0.3
)

// Word-count thresholds for complexity.
const (
	simpleMaxWords = 20
	mediumMaxWords = 100
)

// RuleBased classifies prompts with the package's signal tables.
// Stateless and safe for concurrent use.
type RuleBased struct{}

// New returns a rule-based classifier.
func New() *RuleBased {
	return &RuleBased{}
}

// Classify maps prompt text to a category, complexity, confidence, and
// suggested capability tags. Never fails; an unmatched prompt classifies
// as general with low confidence.
func (c *RuleBased) Classify(prompt string) routing.ClassificationResult {
	lower := strings.ToLower(prompt)

	bestScore := 0
	best := routing.ClassificationResult{
		Category:   routing.CategoryGeneral,
		Confidence: defaultConfidence,
	}

	for _, p := range patterns {
		score, indicators := matchPattern(prompt, lower, p)
		if score > bestScore {
			bestScore = score
			confidence := baseConfidence + float64(score)*perHitBoost
			if confidence > maxConfidence {
				confidence = maxConfidence
			}
			best = routing.ClassificationResult{
				Category:        p.Category,
				Confidence:      confidence,
				Indicators:      indicators,
				SuggestedSkills: append([]string(nil), p.Skills...),
			}
		}
	}

	best.Complexity = classifyComplexity(prompt, lower)
	return best
}

// matchPattern counts a pattern's signals in the prompt. Keyword hits count
// one each; regex hits count two (structural signals are stronger evidence).
func matchPattern(prompt, lower string, p categoryPattern) (int, []string) {
	score := 0
	var indicators []string

	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw) {
			score++
			indicators = append(indicators, kw)
		}
	}
	for _, re := range p.Regexes {
		if re.MatchString(prompt) {
			score += 2
			indicators = append(indicators, "regex:"+re.String())
		}
	}
	return score, indicators
}

// classifyComplexity assesses prompt difficulty from length and hard
// indicators. Hard indicators win regardless of word count.
func classifyComplexity(prompt, lower string) routing.Complexity {
	for _, indicator := range hardIndicators {
		if strings.Contains(lower, indicator) {
			return routing.ComplexityHard
		}
	}

	wc := len(strings.Fields(prompt))
	switch {
	case wc <= simpleMaxWords:
		return routing.ComplexitySimple
	case wc <= mediumMaxWords:
		return routing.ComplexityMedium
	default:
		return routing.ComplexityHard
	}
}
