// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// STATIC SOURCE
// ============================================================================

// Static is a Source backed by a fixed device list. Used on GPU-less hosts
// and throughout the test suites; SetGPUs lets tests move the "hardware"
// between allocation calls.
type Static struct {
	mu   sync.Mutex
	gpus []GPUInfo
}

// NewStatic creates a static source over the given devices.
func NewStatic(gpus []GPUInfo) *Static {
	s := &Static{}
	s.SetGPUs(gpus)
	return s
}

// SetGPUs replaces the device list.
func (s *Static) SetGPUs(gpus []GPUInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpus = append([]GPUInfo(nil), gpus...)
}

// Status returns a defensive copy of the device list with a fresh timestamp.
func (s *Static) Status(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		GPUs:      append([]GPUInfo(nil), s.gpus...),
		Timestamp: time.Now(),
	}
	snapshot.sumTotals()
	return snapshot, nil
}
