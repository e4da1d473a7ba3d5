// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profiler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedGenerator answers probes by keyword, with controllable failures.
type scriptedGenerator struct {
	failAfter int // fail on the Nth call (1-based); 0 = never
	calls     int
}

func (g *scriptedGenerator) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	g.calls++
	if g.failAfter > 0 && g.calls >= g.failAfter {
		return "", errors.New("model unavailable")
	}

	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "func"):
		return "func Add(a, b int) int { return a + b }", nil
	case strings.Contains(lower, "widget"):
		return "No.", nil
	case strings.Contains(lower, "lighthouse"):
		return "The lighthouse stood firm against the storm.", nil
	case strings.Contains(lower, "17"):
		return "391", nil
	default:
		return "", nil
	}
}

func TestQuickProfileAllCorrect(t *testing.T) {
	q := New(&scriptedGenerator{})
	fixedNow := time.Now()
	q.now = func() time.Time { return fixedNow }
	q.since = func(time.Time) time.Duration { return 200 * time.Millisecond }

	profile, err := q.QuickProfile(context.Background(), "test", "m")
	if err != nil {
		t.Fatalf("QuickProfile: %v", err)
	}

	if profile.OverallQuality != 1.0 {
		t.Errorf("OverallQuality = %.2f, want 1.0", profile.OverallQuality)
	}
	if profile.CodingScore != 1.0 || profile.MathScore != 1.0 {
		t.Errorf("per-category scores = %+v, want all 1.0", profile)
	}
	if profile.SpeedScore != 1.0 {
		t.Errorf("SpeedScore = %.2f, want 1.0 at 200ms mean latency", profile.SpeedScore)
	}
	if !profile.MeasuredAt.Equal(fixedNow) {
		t.Error("MeasuredAt should use the profiler clock")
	}
}

func TestQuickProfileProbeFailure(t *testing.T) {
	q := New(&scriptedGenerator{failAfter: 2})

	_, err := q.QuickProfile(context.Background(), "test", "m")
	if err == nil {
		t.Fatal("expected error when a probe fails")
	}
}

func TestQuickProfileNoGenerator(t *testing.T) {
	q := New(nil)
	if _, err := q.QuickProfile(context.Background(), "test", "m"); err == nil {
		t.Fatal("expected error with no generator")
	}
}

func TestGradeAnswer(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		accept []string
		want   float64
	}{
		{"correct answer", "The result is 391.", []string{"391"}, 1.0},
		{"case insensitive", "FUNC ADD(a, b int)", []string{"func add"}, 1.0},
		{"wrong answer", "The result is 400.", []string{"391"}, 0.2},
		{"empty answer", "   ", []string{"391"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gradeAnswer(tt.answer, tt.accept); got != tt.want {
				t.Errorf("gradeAnswer(%q) = %.2f, want %.2f", tt.answer, got, tt.want)
			}
		})
	}
}

func TestSpeedFromLatency(t *testing.T) {
	tests := []struct {
		name string
		mean time.Duration
		want float64
	}{
		{"fast anchor", 300 * time.Millisecond, 1.0},
		{"at fast boundary", 500 * time.Millisecond, 1.0},
		{"slow anchor", 15 * time.Second, 0.1},
		{"at slow boundary", 10 * time.Second, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := speedFromLatency(tt.mean); got != tt.want {
				t.Errorf("speedFromLatency(%v) = %.2f, want %.2f", tt.mean, got, tt.want)
			}
		})
	}

	// Midpoint interpolates strictly between the anchors.
	mid := speedFromLatency(5 * time.Second)
	if mid <= 0.1 || mid >= 1.0 {
		t.Errorf("midpoint speed = %.2f, want between 0.1 and 1.0", mid)
	}
	faster := speedFromLatency(2 * time.Second)
	if faster <= mid {
		t.Error("lower latency must score higher")
	}
}
