// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpu

import (
	"log"

	"github.com/jeranaias/rigsched/internal/telemetry"
)

// ============================================================================
// STRATEGY DISPATCH
// ============================================================================

// pickLocked selects one device from the admissible candidates according
// to the configured strategy. Candidates is non-empty and keeps telemetry
// order (ascending device index). Caller must hold m.mu.
//
// Dispatch is an exhaustive switch: adding a strategy without a picker is
// a visible gap here, not a silent fallthrough.
func (m *Manager) pickLocked(candidates []telemetry.GPUInfo) int {
	switch m.cfg.Strategy {
	case StrategyAuto:
		return pickMaxFree(candidates)
	case StrategyRoundRobin:
		return m.pickFewestModelsLocked(candidates)
	case StrategyPack:
		return pickLowestIndex(candidates)
	case StrategySpread:
		return pickLowestUtilization(candidates)
	case StrategyManual:
		// Manual expects a preferred device from the caller; reaching
		// this picker means none was given or it was inadmissible.
		return candidates[0].Index
	default:
		log.Printf("GPU: unknown strategy %v, refusing to allocate", m.cfg.Strategy)
		return NoGPU
	}
}

// pickMaxFree returns the device with the most free VRAM.
// Ties keep the earlier (lower-index) device.
func pickMaxFree(candidates []telemetry.GPUInfo) int {
	best := candidates[0]
	for _, g := range candidates[1:] {
		if g.FreeMemoryMB > best.FreeMemoryMB {
			best = g
		}
	}
	return best.Index
}

// pickFewestModelsLocked returns the device hosting the fewest models,
// breaking ties by most free VRAM. Caller must hold m.mu.
func (m *Manager) pickFewestModelsLocked(candidates []telemetry.GPUInfo) int {
	best := candidates[0]
	bestCount := len(m.gpuModels[best.Index])

	for _, g := range candidates[1:] {
		count := len(m.gpuModels[g.Index])
		if count < bestCount || (count == bestCount && g.FreeMemoryMB > best.FreeMemoryMB) {
			best = g
			bestCount = count
		}
	}
	return best.Index
}

// pickLowestIndex returns the device with the lowest index.
func pickLowestIndex(candidates []telemetry.GPUInfo) int {
	best := candidates[0]
	for _, g := range candidates[1:] {
		if g.Index < best.Index {
			best = g
		}
	}
	return best.Index
}

// pickLowestUtilization returns the device with the lowest compute
// utilization. Ties keep the earlier (lower-index) device.
func pickLowestUtilization(candidates []telemetry.GPUInfo) int {
	best := candidates[0]
	for _, g := range candidates[1:] {
		if g.UtilizationPercent < best.UtilizationPercent {
			best = g
		}
	}
	return best.Index
}
