package mistral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

func newTestAdapter(t *testing.T, serverURL string) *MistralAdapter {
	t.Helper()
	adapter, err := NewMistralAdapter(providers.ModelConfig{
		Type:   "mistral",
		APIKey: "test-key",
		APIURL: serverURL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMistralAdapter() error = %v", err)
	}
	return adapter
}

func TestNewMistralAdapter(t *testing.T) {
	tests := []struct {
		name        string
		config      providers.ModelConfig
		expectError bool
	}{
		{
			name:   "defaults applied",
			config: providers.ModelConfig{Type: "mistral", APIKey: "k"},
		},
		{
			name:        "missing api key",
			config:      providers.ModelConfig{Type: "mistral"},
			expectError: true,
		},
		{
			name:        "invalid api url",
			config:      providers.ModelConfig{Type: "mistral", APIKey: "k", APIURL: "not a url"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewMistralAdapter(tt.config, nil)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !services.IsConfigurationError(err) {
					t.Errorf("error = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if adapter.settings.APIURL != defaultAPIURL {
				t.Errorf("APIURL = %s, want %s", adapter.settings.APIURL, defaultAPIURL)
			}
			if adapter.settings.ModelName != defaultModel {
				t.Errorf("ModelName = %s, want %s", adapter.settings.ModelName, defaultModel)
			}
			if adapter.settings.MaxTokens != defaultMaxTokens {
				t.Errorf("MaxTokens = %d, want %d", adapter.settings.MaxTokens, defaultMaxTokens)
			}
			if adapter.settings.Timeout != defaultTimeout {
				t.Errorf("Timeout = %v, want %v", adapter.settings.Timeout, defaultTimeout)
			}
		})
	}
}

func TestMistralAdapter_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("path = %s, want /completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %s", got)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["prompt"] != "hi" {
			t.Errorf("prompt = %v, want hi", body["prompt"])
		}
		if body["model"] != defaultModel {
			t.Errorf("model = %v, want %s", body["model"], defaultModel)
		}
		if body["max_tokens"] != float64(32) {
			t.Errorf("max_tokens = %v, want 32", body["max_tokens"])
		}
		if body["temperature"] != defaultTemperature {
			t.Errorf("temperature = %v, want default", body["temperature"])
		}
		if body["top_p"] != 0.5 {
			t.Errorf("top_p = %v, want passthrough 0.5", body["top_p"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[{"index":0,"text":"hello there"}]}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	result, err := adapter.Generate(context.Background(), &providers.GenerateRequest{
		Prompt:    "hi",
		MaxTokens: 32,
		Extra:     map[string]interface{}{"top_p": 0.5, "prompt": "ignored"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("Text = %q, want %q", result.Text, "hello there")
	}
	if result.IsStream() {
		t.Error("non-streaming call returned a stream")
	}
}

func TestMistralAdapter_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("stream = %v, want true", body["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	result, err := adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !result.IsStream() {
		t.Fatal("expected a stream")
	}

	text, err := providers.Collect(result.Stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text)
	}
}

func TestMistralAdapter_ErrorResponses(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
	}{
		{
			name:          "server error is retryable",
			status:        http.StatusServiceUnavailable,
			body:          `{"message":"overloaded"}`,
			wantRetryable: true,
		},
		{
			name:          "rate limit is retryable",
			status:        http.StatusTooManyRequests,
			body:          `{"message":"slow down"}`,
			wantRetryable: true,
		},
		{
			name:          "unauthorized is not retryable",
			status:        http.StatusUnauthorized,
			body:          `{"message":"bad key"}`,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := newTestAdapter(t, server.URL)

			for _, stream := range []bool{false, true} {
				_, err := adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi", Stream: stream})
				if err == nil {
					t.Fatalf("stream=%v: expected error", stream)
				}

				var provErr *providers.ProviderError
				if !errors.As(err, &provErr) {
					t.Fatalf("error type = %T, want *ProviderError", err)
				}
				if provErr.StatusCode != tt.status {
					t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
				}
				if provErr.Retryable != tt.wantRetryable {
					t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
				}
			}
		})
	}
}

func TestMistralAdapter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	adapter, err := NewMistralAdapter(providers.ModelConfig{
		Type:    "mistral",
		APIKey:  "k",
		APIURL:  server.URL,
		Timeout: 0.05,
	}, nil)
	if err != nil {
		t.Fatalf("NewMistralAdapter() error = %v", err)
	}

	_, err = adapter.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !providers.IsRetryable(err) {
		t.Errorf("transport errors should be retryable, got %v", err)
	}
}

func TestMistralAdapter_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		var body providers.EmbeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != defaultEmbeddingModel {
			t.Errorf("model = %s, want %s", body.Model, defaultEmbeddingModel)
		}

		resp := map[string]interface{}{"data": []map[string]interface{}{}}
		data := make([]map[string]interface{}, len(body.Input))
		for i, text := range body.Input {
			data[i] = map[string]interface{}{"index": i, "embedding": []float32{float32(len(text))}}
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	vectors, err := adapter.Embed(context.Background(), providers.MultiText("a", "bbb"))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 1 || vectors[1][0] != 3 {
		t.Errorf("vectors = %v, want [[1] [3]]", vectors)
	}
}

func TestMistralAdapter_EmbedDuplicateIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[1]},{"index":1,"embedding":[2]}]}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)

	vectors, err := adapter.Embed(context.Background(), providers.MultiText("a", "b"))
	if err == nil {
		t.Fatalf("Embed() = %v, want error for repeated index", vectors)
	}
	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != "INVALID_RESPONSE" {
		t.Errorf("error = %v, want INVALID_RESPONSE provider error", err)
	}
}

func TestMistralAdapter_ModelInfo(t *testing.T) {
	adapter := newTestAdapter(t, "https://api.example.com/v1")
	info := adapter.ModelInfo()

	if info["model_name"] != defaultModel {
		t.Errorf("model_name = %v", info["model_name"])
	}
	if info["model_type"] != "mistral" {
		t.Errorf("model_type = %v", info["model_type"])
	}
	config := info["config"].(map[string]interface{})
	if _, ok := config["api_key"]; ok {
		t.Error("config must not expose api_key")
	}
}
