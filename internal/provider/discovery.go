// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"

	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// DISCOVERY ADAPTER
// ============================================================================

// Discovery adapts the client to the routing engine's Provider interface.
type Discovery struct {
	client *Client
}

// NewDiscovery wraps a client for engine discovery.
func NewDiscovery(client *Client) *Discovery {
	return &Discovery{client: client}
}

// defaultContextLength is assumed when the provider does not report one.
const defaultContextLength = 8192

// toolFamilies lists model families/name prefixes known to handle tool
// calls. Conservative: capability scores correct themselves via profiling,
// the tools flag does not.
var toolFamilies = []string{"llama3", "qwen", "mistral", "command-r", "firefunction"}

// visionMarkers flag multimodal variants by naming convention.
var visionMarkers = []string{"vision", "llava", "bakllava", "moondream"}

// Models lists the provider's models as routing discovery entries.
func (d *Discovery) Models(ctx context.Context) ([]routing.ModelInfo, error) {
	entries, err := d.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]routing.ModelInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, routing.ModelInfo{
			ID:                e.ID,
			SupportsTools:     matchesAny(e, toolFamilies),
			SupportsVision:    matchesAny(e, visionMarkers),
			SupportsStreaming: true,
			ContextLength:     defaultContextLength,
		})
	}
	return infos, nil
}

// matchesAny reports whether the entry's name or family contains any of
// the markers.
func matchesAny(e ModelEntry, markers []string) bool {
	name := strings.ToLower(e.ID)
	family := strings.ToLower(e.Family)
	for _, marker := range markers {
		if strings.Contains(name, marker) || strings.Contains(family, marker) {
			return true
		}
	}
	return false
}
