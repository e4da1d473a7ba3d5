// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// NVIDIA-SMI SOURCE
// ============================================================================

// nvidiaQueryFields is the column list passed to nvidia-smi --query-gpu.
const nvidiaQueryFields = "index,name,memory.total,memory.used,memory.free,utilization.gpu,temperature.gpu"

// NvidiaSMI reads GPU state by shelling out to nvidia-smi.
// Stateless: every Status call runs a fresh query.
type NvidiaSMI struct {
	// binary overrides the nvidia-smi path, for tests.
	binary string
}

// NewNvidiaSMI creates an nvidia-smi backed source.
func NewNvidiaSMI() *NvidiaSMI {
	return &NvidiaSMI{binary: "nvidia-smi"}
}

// Status queries nvidia-smi and parses its CSV output.
// A missing binary or a host without NVIDIA GPUs returns an error; callers
// that want to tolerate GPU-less hosts should fall back to a Static source.
func (n *NvidiaSMI) Status(ctx context.Context) (Snapshot, error) {
	cmd := exec.CommandContext(ctx, n.binary,
		"--query-gpu="+nvidiaQueryFields,
		"--format=csv,noheader,nounits")

	out, err := cmd.Output()
	if err != nil {
		return Snapshot{}, fmt.Errorf("nvidia-smi query failed: %w", err)
	}

	snapshot := Snapshot{Timestamp: time.Now()}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		gpu, err := parseNvidiaLine(line)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parsing nvidia-smi output: %w", err)
		}
		snapshot.GPUs = append(snapshot.GPUs, gpu)
	}
	snapshot.sumTotals()
	return snapshot, nil
}

// parseNvidiaLine parses one CSV row in nvidiaQueryFields order.
// Example: "0, NVIDIA GeForce RTX 4090, 24564, 1024, 23540, 12, 41"
func parseNvidiaLine(line string) (GPUInfo, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return GPUInfo{}, fmt.Errorf("expected 7 fields, got %d in %q", len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return GPUInfo{}, fmt.Errorf("bad index %q: %w", fields[0], err)
	}
	total, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return GPUInfo{}, fmt.Errorf("bad memory.total %q: %w", fields[2], err)
	}
	used, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return GPUInfo{}, fmt.Errorf("bad memory.used %q: %w", fields[3], err)
	}
	free, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return GPUInfo{}, fmt.Errorf("bad memory.free %q: %w", fields[4], err)
	}

	// Utilization and temperature may report "[N/A]" on some drivers;
	// treat unparseable values as zero rather than failing the snapshot.
	util, _ := strconv.ParseFloat(fields[5], 64)
	temp, _ := strconv.Atoi(fields[6])

	return GPUInfo{
		Index:              index,
		Name:               fields[1],
		Vendor:             "nvidia",
		TotalMemoryMB:      total,
		UsedMemoryMB:       used,
		FreeMemoryMB:       free,
		UtilizationPercent: util,
		TemperatureC:       temp,
	}, nil
}
