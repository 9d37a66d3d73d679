package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc, cfg Config) *OpenAIProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	return newOpenAIProviderFromClient(&client, cfg)
}

func TestOpenAIProviderEmbed(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}, Config{Model: "test-model"})

	vectors, err := p.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != float32(0.1) || vectors[1][0] != float32(0.4) {
		t.Errorf("vectors not placed by index: %v", vectors)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestOpenAIProviderEmbed_Empty(t *testing.T) {
	p := NewOpenAIProvider(Config{Endpoint: "http://unused", Model: "test-model", Dimension: 128})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestOpenAIProviderEmbed_ServerError(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}, Config{})

	if _, err := p.Embed(context.Background(), []string{"hello"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIProviderDimension_Fallback(t *testing.T) {
	p := NewOpenAIProvider(Config{Endpoint: "http://unused", Dimension: 256})
	if p.Dimension() != 256 {
		t.Errorf("got dimension %d, want 256", p.Dimension())
	}
}

func TestOllamaProviderEmbed(t *testing.T) {
	var prompts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 0}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || len(prompts) != 2 {
		t.Fatalf("got %d vectors from %d calls", len(vectors), len(prompts))
	}
	if p.Dimension() != 2 {
		t.Errorf("got dimension %d, want 2", p.Dimension())
	}
}

func TestOllamaProviderEmbed_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := New(Config{Provider: "gemini"}); err == nil {
		t.Fatal("expected error for gemini without key")
	}
	p, err := New(Config{Provider: "ollama", Dimension: 8})
	if err != nil {
		t.Fatal(err)
	}
	if p.Dimension() != 8 {
		t.Errorf("dimension = %d", p.Dimension())
	}
}
