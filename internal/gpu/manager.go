// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpu

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rigsched/internal/telemetry"
)

// ============================================================================
// MANAGER
// ============================================================================

// Manager owns the allocation/release state machine. Construct one per
// process with NewManager and pass it by reference; there is no
// package-level instance.
//
// One mutex covers every mutating operation end-to-end, from the telemetry
// read through the strategy decision to the map mutation, so allocate and
// release are linearizable with respect to each other: two concurrent
// callers can never be granted the same exclusive GPU and the two index
// maps never diverge. The telemetry fetch is the only I/O under the lock.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	source telemetry.Source

	// allocations and gpuModels are mutual inverses: every entry added
	// to or removed from one is mirrored in the other within the same
	// critical section.
	allocations map[string]*Allocation
	gpuModels   map[int]map[string]bool

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewManager creates a GPU manager over the given telemetry source.
func NewManager(cfg Config, source telemetry.Source) *Manager {
	return &Manager{
		cfg:         cfg,
		source:      source,
		allocations: make(map[string]*Allocation),
		gpuModels:   make(map[int]map[string]bool),
		now:         time.Now,
	}
}

// Config returns a copy of the manager's policy.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ============================================================================
// ALLOCATE
// ============================================================================

// AllocateGPU reserves a device for the model and returns its index.
// Returns (NoGPU, false) when no device can satisfy the request; this is
// the only failure signal, never an error.
//
// Idempotent per model: if the model already holds an allocation its
// existing GPU is returned unconditionally, without re-validation.
func (m *Manager) AllocateGPU(ctx context.Context, modelID string, opts AllocateOptions) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.allocations[modelID]; ok {
		return existing.GPUID, true
	}

	// Fresh hardware state on every decision; a telemetry failure is
	// treated the same as an empty device list.
	snapshot, err := m.source.Status(ctx)
	if err != nil {
		log.Printf("GPU: telemetry unavailable, cannot allocate %s: %v", modelID, err)
		return NoGPU, false
	}

	if opts.PreferredGPU != nil {
		for _, g := range snapshot.GPUs {
			if g.Index != *opts.PreferredGPU {
				continue
			}
			if m.canAllocateLocked(g, opts.VRAMRequiredGB, opts.Exclusive) {
				m.allocateLocked(g.Index, modelID, opts)
				return g.Index, true
			}
			break
		}
		// Preferred device unusable: fall through to strategy selection.
	}

	candidates := make([]telemetry.GPUInfo, 0, len(snapshot.GPUs))
	for _, g := range snapshot.GPUs {
		if m.canAllocateLocked(g, opts.VRAMRequiredGB, opts.Exclusive) {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		log.Printf("GPU: no admissible device for %s (vram=%.1fGB exclusive=%v)",
			modelID, opts.VRAMRequiredGB, opts.Exclusive)
		return NoGPU, false
	}

	gpuID := m.pickLocked(candidates)
	if gpuID == NoGPU {
		return NoGPU, false
	}
	m.allocateLocked(gpuID, modelID, opts)
	return gpuID, true
}

// canAllocateLocked decides whether a device can admit the request.
// Caller must hold m.mu. All of the following must hold:
//
//	a. no existing occupant of the device is exclusive
//	b. an exclusive request needs an empty device
//	c. with sharing disabled, a non-exclusive request needs an empty device
//	d. the device's memory usage is below the VRAM threshold
//	e. with a stated requirement, free memory covers requirement + reserve
func (m *Manager) canAllocateLocked(g telemetry.GPUInfo, vramRequiredGB float64, exclusive bool) bool {
	occupants := m.gpuModels[g.Index]

	for occ := range occupants {
		if alloc, ok := m.allocations[occ]; ok && alloc.Exclusive {
			return false
		}
	}
	if exclusive && len(occupants) > 0 {
		return false
	}
	if !m.cfg.AllowSharedGPU && !exclusive && len(occupants) > 0 {
		return false
	}
	if g.MemoryUsagePercent() >= m.cfg.VRAMThresholdPercent {
		return false
	}
	if vramRequiredGB > 0 && g.FreeMemoryGB() < vramRequiredGB+m.cfg.ReservedVRAMGB {
		return false
	}
	return true
}

// allocateLocked records the reservation in both index maps.
// Caller must hold m.mu.
func (m *Manager) allocateLocked(gpuID int, modelID string, opts AllocateOptions) {
	vram := opts.VRAMRequiredGB
	if vram < 0 {
		vram = 0
	}
	m.allocations[modelID] = &Allocation{
		GPUID:          gpuID,
		ModelID:        modelID,
		VRAMRequiredGB: vram,
		Exclusive:      opts.Exclusive,
		CreatedAt:      m.now(),
	}
	if m.gpuModels[gpuID] == nil {
		m.gpuModels[gpuID] = make(map[string]bool)
	}
	m.gpuModels[gpuID][modelID] = true

	log.Printf("GPU: allocated gpu=%d model=%s vram=%.1fGB exclusive=%v",
		gpuID, modelID, vram, opts.Exclusive)
}

// ============================================================================
// RELEASE
// ============================================================================

// ReleaseGPU removes the model's allocation from both index maps.
// Returns false if the model held no allocation. The GPU's entry in the
// reverse index is deleted entirely once its model set is empty.
func (m *Manager) ReleaseGPU(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[modelID]
	if !ok {
		return false
	}
	delete(m.allocations, modelID)

	if models := m.gpuModels[alloc.GPUID]; models != nil {
		delete(models, modelID)
		if len(models) == 0 {
			delete(m.gpuModels, alloc.GPUID)
		}
	}

	log.Printf("GPU: released gpu=%d model=%s", alloc.GPUID, modelID)
	return true
}

// ReleaseAll clears both index maps atomically and returns the prior
// allocation count.
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.allocations)
	m.allocations = make(map[string]*Allocation)
	m.gpuModels = make(map[int]map[string]bool)

	if count > 0 {
		log.Printf("GPU: released all %d allocations", count)
	}
	return count
}

// ============================================================================
// LOOKUPS
// ============================================================================

// GPUForModel returns the device index the model is allocated to.
func (m *Manager) GPUForModel(modelID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[modelID]
	if !ok {
		return NoGPU, false
	}
	return alloc.GPUID, true
}

// ModelsOnGPU returns the models allocated to a device, sorted by ID.
func (m *Manager) ModelsOnGPU(gpuID int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	models := make([]string, 0, len(m.gpuModels[gpuID]))
	for id := range m.gpuModels[gpuID] {
		models = append(models, id)
	}
	sort.Strings(models)
	return models
}

// Allocations returns a copy of all current allocations, sorted by model.
func (m *Manager) Allocations() []Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Allocation, 0, len(m.allocations))
	for _, a := range m.allocations {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// AvailableGPUs returns the devices that would currently admit an
// unqualified non-exclusive request. Advisory only: the answer can be
// stale by the time a real allocation runs.
func (m *Manager) AvailableGPUs(ctx context.Context) []telemetry.GPUInfo {
	snapshot, err := m.source.Status(ctx)
	if err != nil {
		log.Printf("GPU: telemetry unavailable: %v", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := make([]telemetry.GPUInfo, 0, len(snapshot.GPUs))
	for _, g := range snapshot.GPUs {
		if m.canAllocateLocked(g, 0, false) {
			available = append(available, g)
		}
	}
	return available
}

// ============================================================================
// STATUS
// ============================================================================

// DeviceStatus pairs a device's telemetry with its current occupants.
type DeviceStatus struct {
	telemetry.GPUInfo
	// Models are the workloads allocated to this device, sorted by ID.
	Models []string `json:"models"`
}

// Status is an observability snapshot of hardware and allocation state.
type Status struct {
	Timestamp      time.Time      `json:"timestamp"`
	Strategy       string         `json:"strategy"`
	GPUs           []DeviceStatus `json:"gpus"`
	Allocations    []Allocation   `json:"allocations"`
	TelemetryError string         `json:"telemetry_error,omitempty"`
}

// Status returns a structured snapshot of telemetry, allocations, and the
// active strategy. A telemetry failure is reported in the snapshot rather
// than as an error.
func (m *Manager) Status(ctx context.Context) Status {
	snapshot, err := m.source.Status(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Timestamp: m.now(),
		Strategy:  m.cfg.Strategy.String(),
	}
	if err != nil {
		status.TelemetryError = err.Error()
	}

	for _, g := range snapshot.GPUs {
		models := make([]string, 0, len(m.gpuModels[g.Index]))
		for id := range m.gpuModels[g.Index] {
			models = append(models, id)
		}
		sort.Strings(models)
		status.GPUs = append(status.GPUs, DeviceStatus{GPUInfo: g, Models: models})
	}

	for _, a := range m.allocations {
		status.Allocations = append(status.Allocations, *a)
	}
	sort.Slice(status.Allocations, func(i, j int) bool {
		return status.Allocations[i].ModelID < status.Allocations[j].ModelID
	})
	return status
}
