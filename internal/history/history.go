// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists an audit log of routing decisions in SQLite.
//
// The store is strictly an audit surface: routing never reads it back for
// decisions, and a missing or broken database must never block a route.
// All methods are safe on a nil *Store, so callers can hold a nil store
// when opening failed and keep the recording call sites unconditional.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// STORE
// ============================================================================

// Store is a SQLite-backed decision log.
type Store struct {
	db *sql.DB
}

// Decision is one recorded routing decision.
type Decision struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	PromptHash string    `json:"prompt_hash"`
	ModelID    string    `json:"model_id"`
	Provider   string    `json:"provider"`
	Category   string    `json:"category"`
	Complexity string    `json:"complexity"`
	Confidence float64   `json:"confidence"`
	Cached     bool      `json:"cached"`
	Reasoning  string    `json:"reasoning"`
}

// Totals aggregates the decision log for observability.
type Totals struct {
	Decisions  int64            `json:"decisions"`
	CacheHits  int64            `json:"cache_hits"`
	ByCategory map[string]int64 `json:"by_category"`
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL,
	prompt_hash TEXT NOT NULL,
	model_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	category TEXT NOT NULL,
	complexity TEXT NOT NULL,
	confidence REAL NOT NULL,
	cached INTEGER NOT NULL,
	reasoning TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_category ON decisions(category);
`

// Open opens (or creates) the decision log at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ============================================================================
// RECORDING
// ============================================================================

// Record appends one routing decision. Safe on a nil store (no-op), so
// callers never need to guard the recording path.
func (s *Store) Record(promptHash string, result routing.RoutingResult) error {
	if s == nil || s.db == nil {
		return nil
	}

	cached := 0
	if result.Cached {
		cached = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO decisions
			(created_at, prompt_hash, model_id, provider, category, complexity, confidence, cached, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), promptHash, result.ModelID, result.Provider,
		result.Category.String(), result.Complexity.String(),
		result.Confidence, cached, result.Reasoning,
	)
	if err != nil {
		return fmt.Errorf("recording decision: %w", err)
	}
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// Recent returns the latest n decisions, newest first.
// Safe on a nil store (empty result).
func (s *Store) Recent(n int) ([]Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 50
	}

	rows, err := s.db.Query(`
		SELECT id, created_at, prompt_hash, model_id, provider, category, complexity, confidence, cached, reasoning
		FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var createdMilli int64
		var cached int
		if err := rows.Scan(&d.ID, &createdMilli, &d.PromptHash, &d.ModelID, &d.Provider,
			&d.Category, &d.Complexity, &d.Confidence, &cached, &d.Reasoning); err != nil {
			return nil, fmt.Errorf("scanning decision row: %w", err)
		}
		d.CreatedAt = time.UnixMilli(createdMilli)
		d.Cached = cached != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// Totals aggregates counts over the whole log.
// Safe on a nil store (zero totals).
func (s *Store) Totals() (Totals, error) {
	totals := Totals{ByCategory: make(map[string]int64)}
	if s == nil || s.db == nil {
		return totals, nil
	}

	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(cached), 0) FROM decisions`)
	if err := row.Scan(&totals.Decisions, &totals.CacheHits); err != nil {
		return totals, fmt.Errorf("aggregating decisions: %w", err)
	}

	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM decisions GROUP BY category`)
	if err != nil {
		return totals, fmt.Errorf("aggregating categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return totals, fmt.Errorf("scanning category row: %w", err)
		}
		totals.ByCategory[category] = count
	}
	return totals, rows.Err()
}
