// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry reports live GPU device state for allocation decisions.
//
// The GPU manager queries a Source fresh on every decision and never caches
// hardware state: allocations must be judged against what the driver
// reports right now, not a snapshot from an earlier call.
package telemetry

import (
	"context"
	"time"
)

// ============================================================================
// SNAPSHOT TYPES
// ============================================================================

// GPUInfo is one device's state at snapshot time.
type GPUInfo struct {
	// Index is the device index as reported by the driver.
	Index int `json:"index"`
	// Name is the device product name.
	Name string `json:"name"`
	// Vendor is the device vendor ("nvidia", "amd", ...).
	Vendor string `json:"vendor"`
	// TotalMemoryMB is the device's total VRAM in MiB.
	TotalMemoryMB uint64 `json:"total_memory_mb"`
	// UsedMemoryMB is the VRAM currently in use in MiB.
	UsedMemoryMB uint64 `json:"used_memory_mb"`
	// FreeMemoryMB is the VRAM currently free in MiB.
	FreeMemoryMB uint64 `json:"free_memory_mb"`
	// UtilizationPercent is the compute utilization 0-100.
	UtilizationPercent float64 `json:"utilization_percent"`
	// TemperatureC is the core temperature in Celsius.
	TemperatureC int `json:"temperature_c"`
}

// FreeMemoryGB returns the free VRAM in GiB.
func (g GPUInfo) FreeMemoryGB() float64 {
	return float64(g.FreeMemoryMB) / 1024.0
}

// MemoryUsagePercent returns used/total as a percentage.
// Returns 0 for a device reporting zero total memory.
func (g GPUInfo) MemoryUsagePercent() float64 {
	if g.TotalMemoryMB == 0 {
		return 0
	}
	return float64(g.UsedMemoryMB) / float64(g.TotalMemoryMB) * 100.0
}

// Snapshot is the full device list at one point in time.
type Snapshot struct {
	// GPUs lists every visible device, ordered by index.
	GPUs []GPUInfo `json:"gpus"`
	// TotalMemoryMB sums total VRAM across devices.
	TotalMemoryMB uint64 `json:"total_memory_mb"`
	// UsedMemoryMB sums used VRAM across devices.
	UsedMemoryMB uint64 `json:"used_memory_mb"`
	// FreeMemoryMB sums free VRAM across devices.
	FreeMemoryMB uint64 `json:"free_memory_mb"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
}

// sumTotals fills the aggregate memory fields from the device list.
func (s *Snapshot) sumTotals() {
	s.TotalMemoryMB = 0
	s.UsedMemoryMB = 0
	s.FreeMemoryMB = 0
	for _, g := range s.GPUs {
		s.TotalMemoryMB += g.TotalMemoryMB
		s.UsedMemoryMB += g.UsedMemoryMB
		s.FreeMemoryMB += g.FreeMemoryMB
	}
}

// ============================================================================
// SOURCE
// ============================================================================

// Source provides live GPU state. An empty device list is a normal state
// (GPU-less host), not an error.
type Source interface {
	Status(ctx context.Context) (Snapshot, error)
}
