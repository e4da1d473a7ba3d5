// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classifier

import (
	"regexp"

	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// PATTERN TABLES
// ============================================================================

// categoryPattern describes the signals for one prompt category.
// Keywords match as substrings of the lowercased prompt; regexes run
// against the raw prompt for structural signals (code fences, equations).
type categoryPattern struct {
	// Category is the prompt category these signals vote for.
	Category routing.PromptCategory
	// Keywords are lowercase substrings counted as one signal each.
	Keywords []string
	// Regexes are structural signals worth two keyword hits each.
	Regexes []*regexp.Regexp
	// Skills are the capability tags suggested when this category wins.
	Skills []string
}

// reCodeFence matches fenced code blocks or inline backtick spans.
var reCodeFence = regexp.MustCompile("```|`[^`]+`")

// reFuncDecl matches common function/class declaration syntax.
var reFuncDecl = regexp.MustCompile(`(?m)\b(func|def|fn|class|void|public|private)\s+\w+`)

// reEquation matches arithmetic expressions like "3x + 2 = 14".
var reEquation = regexp.MustCompile(`\d+\s*[a-z]?\s*[+\-*/^=]\s*\d+`)

// reTranslatePair matches "translate ... to <language>" style requests.
var reTranslatePair = regexp.MustCompile(`(?i)translate\b.*\b(to|into|from)\b`)

// patterns is the ordered signal table. Order matters only for breaking
// exact ties: the first category with the top signal count wins.
var patterns = []categoryPattern{
	{
		Category: routing.CategoryCoding,
		Keywords: []string{
			"code", "function", "implement", "debug", "refactor", "compile",
			"bug", "script", "program", "api", "class", "method", "library",
			"syntax", "regex", "sql", "algorithm",
		},
		Regexes: []*regexp.Regexp{reCodeFence, reFuncDecl},
		Skills:  []string{"code_generation", "tool_use"},
	},
	{
		Category: routing.CategoryMath,
		Keywords: []string{
			"calculate", "solve", "equation", "integral", "derivative",
			"probability", "theorem", "proof", "matrix", "arithmetic",
			"geometry", "algebra",
		},
		Regexes: []*regexp.Regexp{reEquation},
		Skills:  []string{"math"},
	},
	{
		Category: routing.CategoryReasoning,
		Keywords: []string{
			"why", "reason", "logic", "deduce", "infer", "step by step",
			"think through", "puzzle", "riddle", "strategy", "decide",
		},
		Skills: []string{"reasoning"},
	},
	{
		Category: routing.CategoryAnalysis,
		Keywords: []string{
			"analyze", "analyse", "compare", "evaluate", "assess", "review",
			"pros and cons", "trade-off", "tradeoff", "examine", "critique",
		},
		Skills: []string{"analysis"},
	},
	{
		Category: routing.CategoryCreative,
		Keywords: []string{
			"write a story", "poem", "creative", "fiction", "character",
			"plot", "lyrics", "screenplay", "imagine", "brainstorm",
		},
		Skills: []string{"creative_writing"},
	},
	{
		Category: routing.CategoryTranslation,
		Keywords: []string{
			"translate", "translation", "in spanish", "in french",
			"in german", "in japanese", "in chinese",
		},
		Regexes: []*regexp.Regexp{reTranslatePair},
		Skills:  []string{"translation"},
	},
	{
		Category: routing.CategorySummarization,
		Keywords: []string{
			"summarize", "summarise", "summary", "tl;dr", "tldr",
			"condense", "key points", "main points", "abstract",
		},
		Skills: []string{"summarization"},
	},
}

// hardIndicators push complexity to hard regardless of length.
var hardIndicators = []string{
	"architecture", "design pattern", "prove", "optimize", "concurrency",
	"distributed", "step by step", "in depth", "comprehensive", "trade-off",
}
