// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpu

import (
	"context"
	"log"
	"sort"
)

// ============================================================================
// FEASIBILITY SIMULATION
// ============================================================================

// RecommendAllocation answers where each requested model could run, as a
// pure simulation over current telemetry: nothing is reserved and the
// manager's state is not consulted beyond raw free memory.
//
// Greedy largest-first bin packing: models are placed in descending VRAM
// order, each onto the device with the most remaining simulated free
// memory that still covers requirement + reserve. Unassignable models map
// to NoGPU.
//
// Advisory only: a later AllocateGPU re-validates against live state and
// may disagree.
func (m *Manager) RecommendAllocation(ctx context.Context, requests []ModelRequest) map[string]int {
	result := make(map[string]int, len(requests))
	for _, req := range requests {
		result[req.ModelID] = NoGPU
	}

	snapshot, err := m.source.Status(ctx)
	if err != nil {
		log.Printf("GPU: telemetry unavailable, recommendation is empty: %v", err)
		return result
	}
	if len(snapshot.GPUs) == 0 {
		return result
	}

	reserved := m.Config().ReservedVRAMGB

	// Simulated free VRAM per device, seeded from telemetry.
	type simGPU struct {
		index  int
		freeGB float64
	}
	free := make([]simGPU, 0, len(snapshot.GPUs))
	for _, g := range snapshot.GPUs {
		free = append(free, simGPU{index: g.Index, freeGB: g.FreeMemoryGB()})
	}

	// Largest requirements place first.
	ordered := append([]ModelRequest(nil), requests...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].VRAMRequiredGB > ordered[j].VRAMRequiredGB
	})

	for _, req := range ordered {
		bestIdx := -1
		for i := range free {
			if free[i].freeGB < req.VRAMRequiredGB+reserved {
				continue
			}
			if bestIdx == -1 || free[i].freeGB > free[bestIdx].freeGB {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			continue
		}
		result[req.ModelID] = free[bestIdx].index
		free[bestIdx].freeGB -= req.VRAMRequiredGB
	}
	return result
}

// CanRunParallel reports whether every requested model can be placed
// simultaneously, per RecommendAllocation's simulation.
func (m *Manager) CanRunParallel(ctx context.Context, requests []ModelRequest) bool {
	placements := m.RecommendAllocation(ctx, requests)
	for _, gpuID := range placements {
		if gpuID == NoGPU {
			return false
		}
	}
	return true
}
