// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpu

import (
	"context"
	"testing"

	"github.com/jeranaias/rigsched/internal/telemetry"
)

func simFixture(reserved float64, free ...float64) *Manager {
	cfg := DefaultConfig()
	cfg.ReservedVRAMGB = reserved

	gpus := make([]telemetry.GPUInfo, len(free))
	for i, f := range free {
		gpus[i] = telemetry.GPUInfo{
			Index:         i,
			TotalMemoryMB: gb(f) + gb(4),
			UsedMemoryMB:  gb(4),
			FreeMemoryMB:  gb(f),
		}
	}
	m, _ := newTestManager(cfg, gpus)
	return m
}

func TestRecommendAllocationLargestFirst(t *testing.T) {
	// Free {16, 8}, reserve 0: m1 (10GB) places first on the most-free
	// device, leaving {6, 8}; m2 (5GB) then takes the now-most-free 8GB
	// device.
	m := simFixture(0, 16, 8)

	placements := m.RecommendAllocation(context.Background(), []ModelRequest{
		{ModelID: "m2", VRAMRequiredGB: 5},
		{ModelID: "m1", VRAMRequiredGB: 10},
	})

	if placements["m1"] != 0 {
		t.Errorf("m1 -> gpu %d, want 0", placements["m1"])
	}
	if placements["m2"] != 1 {
		t.Errorf("m2 -> gpu %d, want 1", placements["m2"])
	}
}

func TestRecommendAllocationSecondFitsOnlyAfterDecrement(t *testing.T) {
	// Free {16, 8}, reserve 0: m1 (10GB) -> device 0, leaving 6GB there;
	// m2 (7GB) no longer fits device 0 and must take device 1.
	m := simFixture(0, 16, 8)

	placements := m.RecommendAllocation(context.Background(), []ModelRequest{
		{ModelID: "m1", VRAMRequiredGB: 10},
		{ModelID: "m2", VRAMRequiredGB: 7},
	})

	if placements["m1"] != 0 || placements["m2"] != 1 {
		t.Errorf("placements = %v, want m1->0 m2->1", placements)
	}
}

func TestRecommendAllocationUnassignable(t *testing.T) {
	m := simFixture(0, 16, 8)

	placements := m.RecommendAllocation(context.Background(), []ModelRequest{
		{ModelID: "fits", VRAMRequiredGB: 12},
		{ModelID: "too-big", VRAMRequiredGB: 30},
	})

	if placements["fits"] != 0 {
		t.Errorf("fits -> gpu %d, want 0", placements["fits"])
	}
	if placements["too-big"] != NoGPU {
		t.Errorf("too-big -> gpu %d, want NoGPU", placements["too-big"])
	}
}

func TestRecommendAllocationHonorsReserve(t *testing.T) {
	// 8GB free with a 1GB reserve cannot take an 8GB model.
	m := simFixture(1, 8)

	placements := m.RecommendAllocation(context.Background(), []ModelRequest{
		{ModelID: "m", VRAMRequiredGB: 8},
	})
	if placements["m"] != NoGPU {
		t.Errorf("m -> gpu %d, want NoGPU (reserve not honored)", placements["m"])
	}
}

func TestRecommendAllocationDoesNotMutate(t *testing.T) {
	m := simFixture(0, 16, 8)
	ctx := context.Background()

	m.RecommendAllocation(ctx, []ModelRequest{{ModelID: "m1", VRAMRequiredGB: 10}})

	if len(m.Allocations()) != 0 {
		t.Error("simulation must not create allocations")
	}
	// A real allocation afterwards sees untouched state.
	if _, ok := m.AllocateGPU(ctx, "m1", AllocateOptions{VRAMRequiredGB: 10}); !ok {
		t.Error("real allocation should succeed after simulation")
	}
}

func TestCanRunParallel(t *testing.T) {
	m := simFixture(0, 16, 8)
	ctx := context.Background()

	ok := m.CanRunParallel(ctx, []ModelRequest{
		{ModelID: "a", VRAMRequiredGB: 10},
		{ModelID: "b", VRAMRequiredGB: 7},
	})
	if !ok {
		t.Error("10GB + 7GB should fit on {16, 8}")
	}

	ok = m.CanRunParallel(ctx, []ModelRequest{
		{ModelID: "a", VRAMRequiredGB: 10},
		{ModelID: "b", VRAMRequiredGB: 9},
	})
	if ok {
		t.Error("10GB + 9GB cannot fit on {16, 8}")
	}
}

func TestCanRunParallelTelemetryFailure(t *testing.T) {
	m := NewManager(DefaultConfig(), failingSource{})

	if m.CanRunParallel(context.Background(), []ModelRequest{{ModelID: "a", VRAMRequiredGB: 1}}) {
		t.Error("telemetry failure collapses to not-parallelizable")
	}
}

func TestCanRunParallelEmptyRequest(t *testing.T) {
	m := simFixture(0, 16)
	if !m.CanRunParallel(context.Background(), nil) {
		t.Error("empty request set is trivially parallelizable")
	}
}
