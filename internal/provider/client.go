// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the HTTP client for an Ollama-style model
// provider. It serves two narrow roles in the scheduling core: listing
// available models for the engine's one-time discovery, and generating
// probe completions for the profiler.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// ERROR TYPES
// ============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// ClientError represents an error from the provider client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "provider is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// ============================================================================
// CLIENT CONFIGURATION
// ============================================================================

// ClientConfig holds configuration options for the provider client.
type ClientConfig struct {
	// BaseURL is the provider API base URL (default: http://127.0.0.1:11434).
	// Uses an explicit IPv4 address instead of localhost to avoid IPv6
	// resolution issues on Windows.
	BaseURL string

	// Timeout for requests (default: 30s). Generation calls may pass a
	// longer deadline via context.
	Timeout time.Duration

	// MaxRetries for transient failures (default: 3).
	MaxRetries int

	// RetryDelay between retries (default: 1s).
	RetryDelay time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:    "http://127.0.0.1:11434",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// ============================================================================
// CLIENT
// ============================================================================

// Client handles communication with the provider API.
// Safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a provider client. A nil config uses defaults; zero
// fields are filled in.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 1 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ============================================================================
// MODEL DISCOVERY
// ============================================================================

// tagsResponse mirrors the provider's /api/tags payload.
type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family        string `json:"family"`
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

// ModelEntry is one discovered model.
type ModelEntry struct {
	// ID is the provider-side model name (e.g. "llama3:8b").
	ID string
	// Family is the model family reported by the provider.
	Family string
	// ParameterSize is the provider's size label (e.g. "8B").
	ParameterSize string
}

// ListModels returns the provider's available models via GET /api/tags.
// Transient failures are retried per the client config.
func (c *Client) ListModels(ctx context.Context) ([]ModelEntry, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		entries, err := c.listModelsOnce(ctx)
		if err == nil {
			return entries, nil
		}
		lastErr = err

		// Do not retry on context cancellation.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) listModelsOnce(ctx context.Context) ([]ModelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeNotRunning, Message: "provider unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeConnection,
			Message: fmt.Sprintf("unexpected status %d from /api/tags", resp.StatusCode),
		}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode /api/tags response", Cause: err}
	}

	entries := make([]ModelEntry, 0, len(tags.Models))
	for _, m := range tags.Models {
		entries = append(entries, ModelEntry{
			ID:            m.Name,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
		})
	}
	return entries, nil
}

// ============================================================================
// GENERATION
// ============================================================================

// generateRequest mirrors the provider's /api/generate payload.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse mirrors the provider's non-streaming response.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate produces a non-streaming completion, used by the profiler's
// probe prompts.
func (c *Client) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: modelID, Prompt: prompt, Stream: false})
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", &ClientError{Type: ErrTypeNotRunning, Message: "provider unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &ClientError{
			Type:    ErrTypeConnection,
			Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if gen.Error != "" {
		return "", &ClientError{Type: ErrTypeUnknown, Message: gen.Error}
	}
	return gen.Response, nil
}
