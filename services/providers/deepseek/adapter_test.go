package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

func newTestAdapter(t *testing.T, serverURL string) *DeepSeekAdapter {
	t.Helper()
	adapter, err := NewDeepSeekAdapter(providers.ModelConfig{
		Type:   "deepseek",
		APIKey: "test-key",
		APIURL: serverURL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeepSeekAdapter() error = %v", err)
	}
	return adapter
}

func TestNewDeepSeekAdapter(t *testing.T) {
	adapter, err := NewDeepSeekAdapter(providers.ModelConfig{Type: "deepseek", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if adapter.settings.APIURL != defaultAPIURL {
		t.Errorf("APIURL = %s, want %s", adapter.settings.APIURL, defaultAPIURL)
	}
	if adapter.settings.EmbeddingModel != defaultEmbeddingModel {
		t.Errorf("EmbeddingModel = %s, want %s", adapter.settings.EmbeddingModel, defaultEmbeddingModel)
	}

	_, err = NewDeepSeekAdapter(providers.ModelConfig{Type: "deepseek"}, nil)
	if !services.IsConfigurationError(err) {
		t.Errorf("missing api key: error = %v, want configuration error", err)
	}
}

func TestDeepSeekAdapter_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}

		var body struct {
			Model    string        `json:"model"`
			Messages []chatMessage `json:"messages"`
			Stream   bool          `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "hi" {
			t.Errorf("messages = %+v, want one user message", body.Messages)
		}
		if body.Model != defaultModel {
			t.Errorf("model = %s, want %s", body.Model, defaultModel)
		}

		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hey"}}]}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	result, err := adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hey" {
		t.Errorf("Text = %q, want hey", result.Text)
	}
}

func TestDeepSeekAdapter_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		for _, tok := range []string{"a", "b", "c"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	result, err := adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	text, err := providers.Collect(result.Stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "abc" {
		t.Errorf("streamed text = %q, want abc", text)
	}
}

func TestDeepSeekAdapter_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	_, err := adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestDeepSeekAdapter_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	vectors, err := adapter.Embed(context.Background(), providers.SingleText("a"))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != 2 {
		t.Errorf("vectors = %v, want one 2-dim vector", vectors)
	}
}
