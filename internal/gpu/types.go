// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gpu manages exclusive-or-shared reservation of GPU devices to
// named workloads under a VRAM budget.
//
// The manager keeps a mutex-guarded two-way index (model -> GPU, GPU ->
// models) and consumes a fresh telemetry snapshot on every allocation
// decision. Five interchangeable strategies pick among the devices that
// pass admission; a non-mutating simulator answers feasibility questions
// without reserving anything.
package gpu

import (
	"fmt"
	"time"
)

// ============================================================================
// ALLOCATION STRATEGY
// ============================================================================

// AllocationStrategy selects which admissible GPU receives a workload.
type AllocationStrategy int

const (
	// StrategyAuto picks the GPU with the most free VRAM.
	StrategyAuto AllocationStrategy = iota
	// StrategyRoundRobin picks the GPU hosting the fewest models,
	// breaking ties by most free VRAM.
	StrategyRoundRobin
	// StrategyPack fills GPUs in index order (lowest index first).
	StrategyPack
	// StrategySpread picks the GPU with the lowest compute utilization.
	StrategySpread
	// StrategyManual expects callers to pass a preferred GPU; without
	// one it falls back to the first admissible device.
	StrategyManual
)

// String returns the configuration name of the strategy.
func (s AllocationStrategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyPack:
		return "pack"
	case StrategySpread:
		return "spread"
	case StrategyManual:
		return "manual"
	default:
		return fmt.Sprintf("AllocationStrategy(%d)", s)
	}
}

// ParseStrategy converts a configuration name to an AllocationStrategy.
func ParseStrategy(s string) (AllocationStrategy, error) {
	switch s {
	case "auto":
		return StrategyAuto, nil
	case "round_robin":
		return StrategyRoundRobin, nil
	case "pack":
		return StrategyPack, nil
	case "spread":
		return StrategySpread, nil
	case "manual":
		return StrategyManual, nil
	default:
		return StrategyAuto, fmt.Errorf("unknown allocation strategy %q", s)
	}
}

// ============================================================================
// CONFIG
// ============================================================================

// Config holds the manager's allocation policy.
type Config struct {
	// Strategy selects among admissible GPUs.
	Strategy AllocationStrategy
	// VRAMThresholdPercent rejects GPUs whose memory usage meets or
	// exceeds this percentage.
	VRAMThresholdPercent float64
	// AllowSharedGPU permits multiple non-exclusive workloads per GPU.
	AllowSharedGPU bool
	// AutoUnload marks that callers may evict idle workloads to make
	// room; advisory, the manager itself never unloads.
	AutoUnload bool
	// ReservedVRAMGB is headroom kept free on every device on top of
	// each workload's stated requirement.
	ReservedVRAMGB float64
}

// DefaultConfig returns the manager's default policy.
func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyAuto,
		VRAMThresholdPercent: 90.0,
		AllowSharedGPU:       true,
		AutoUnload:           false,
		ReservedVRAMGB:       1.0,
	}
}

// ============================================================================
// ALLOCATION
// ============================================================================

// NoGPU is the device index returned when no allocation is possible.
const NoGPU = -1

// Allocation is one model's reservation of a GPU. Exactly one allocation
// exists per model ID at all times.
type Allocation struct {
	// GPUID is the reserved device index.
	GPUID int `json:"gpu_id"`
	// ModelID is the workload holding the reservation.
	ModelID string `json:"model_id"`
	// VRAMRequiredGB is the VRAM the workload stated it needs;
	// 0 means unspecified.
	VRAMRequiredGB float64 `json:"vram_required_gb"`
	// Exclusive forbids any other workload on the same GPU.
	Exclusive bool `json:"exclusive"`
	// CreatedAt is when the reservation was granted.
	CreatedAt time.Time `json:"created_at"`
}

// AllocateOptions are the optional parameters of an allocation request.
type AllocateOptions struct {
	// VRAMRequiredGB is the workload's VRAM need in GiB; <= 0 means
	// unspecified and skips the free-memory admission check.
	VRAMRequiredGB float64
	// PreferredGPU, when set, is tried before strategy selection.
	PreferredGPU *int
	// Exclusive requests sole occupancy of the granted GPU.
	Exclusive bool
}

// ModelRequest is one entry of a feasibility query.
type ModelRequest struct {
	// ModelID names the workload.
	ModelID string `json:"model_id"`
	// VRAMRequiredGB is the workload's VRAM need in GiB.
	VRAMRequiredGB float64 `json:"vram_required_gb"`
}
