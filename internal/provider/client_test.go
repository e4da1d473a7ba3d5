// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(&ClientConfig{
		BaseURL:    url,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	})
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models":[
			{"name":"llama3:8b","details":{"family":"llama3","parameter_size":"8B"}},
			{"name":"phi3:mini","details":{"family":"phi3","parameter_size":"3.8B"}}
		]}`))
	}))
	defer srv.Close()

	entries, err := newTestClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != "llama3:8b" || entries[0].Family != "llama3" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
}

func TestListModelsRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3:8b","details":{}}]}`))
	}))
	defer srv.Close()

	entries, err := newTestClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels after retry: %v", err)
	}
	if len(entries) != 1 || calls.Load() != 2 {
		t.Errorf("entries=%d calls=%d, want 1 entry after 2 calls", len(entries), calls.Load())
	}
}

func TestListModelsUnreachable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.ListModels(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable provider")
	}
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ClientError", err)
	}
	if ce.Type != ErrTypeNotRunning {
		t.Errorf("error type = %v, want ErrTypeNotRunning", ce.Type)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"response":"391","done":true}`))
	}))
	defer srv.Close()

	answer, err := newTestClient(srv.URL).Generate(context.Background(), "llama3:8b", "What is 17 * 23?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "391" {
		t.Errorf("answer = %q, want 391", answer)
	}
}

func TestGenerateModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "ghost", "hi")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestGenerateProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "m", "hi")
	if err == nil {
		t.Fatal("expected error from provider error payload")
	}
}

func TestDiscoveryCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[
			{"name":"llama3:8b","details":{"family":"llama3"}},
			{"name":"llava:13b","details":{"family":"llama"}},
			{"name":"phi3:mini","details":{"family":"phi3"}}
		]}`))
	}))
	defer srv.Close()

	d := NewDiscovery(newTestClient(srv.URL))
	infos, err := d.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("infos = %d, want 3", len(infos))
	}

	byID := map[string]bool{}
	for _, info := range infos {
		byID[info.ID] = true
		if !info.SupportsStreaming {
			t.Errorf("%s should support streaming", info.ID)
		}
	}
	if !byID["llama3:8b"] || !byID["llava:13b"] || !byID["phi3:mini"] {
		t.Fatalf("unexpected IDs: %v", byID)
	}

	for _, info := range infos {
		switch info.ID {
		case "llama3:8b":
			if !info.SupportsTools {
				t.Error("llama3 should flag tool support")
			}
		case "llava:13b":
			if !info.SupportsVision {
				t.Error("llava should flag vision support")
			}
		case "phi3:mini":
			if info.SupportsTools || info.SupportsVision {
				t.Error("phi3 should flag neither tools nor vision")
			}
		}
	}
}
