package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient is the subset of *http.Client adapters use
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PostJSON marshals body, posts it to url and returns the response when the
// status is 2xx. Any other status is converted to a ProviderError and the
// body is closed. The caller owns the returned body.
func PostJSON(ctx context.Context, client HTTPClient, provider, url string, headers map[string]string, body interface{}) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, NewProviderError(provider, "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewProviderError(provider, "REQUEST_ERROR", "failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(provider, "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, ErrorFromResponse(provider, httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// DecodeJSON reads and decodes a JSON body, closing it
func DecodeJSON(provider string, resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewProviderError(provider, "READ_ERROR", "failed to read response", resp.StatusCode, false, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return NewProviderError(provider, "UNMARSHAL_ERROR", "failed to unmarshal response", resp.StatusCode, false, err)
	}
	return nil
}

// apiErrorResponse covers the common {"error": {...}} and {"message": ...}
// shapes returned by hosted APIs
type apiErrorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ErrorFromResponse builds a ProviderError from a non-2xx response
func ErrorFromResponse(provider string, statusCode int, body []byte) error {
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests
	code := fmt.Sprintf("HTTP_%d", statusCode)
	message := strings.TrimSpace(string(body))

	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		var nested apiError
		var flat string
		switch {
		case len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &nested) == nil && nested.Message != "":
			message = nested.Message
			if nested.Type != "" {
				code = nested.Type
			}
		case len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &flat) == nil && flat != "":
			message = flat
		case errResp.Message != "":
			message = errResp.Message
		case errResp.Detail != "":
			message = errResp.Detail
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return NewProviderError(provider, code, message, statusCode, retryable, errors.New(message))
}

// EmbeddingsRequest is the OpenAI-compatible embeddings request body
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse is the OpenAI-compatible embeddings response body
type EmbeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Vectors returns embeddings ordered by their reported index. Out of range
// or repeated indexes reject the whole reply.
func (r *EmbeddingsResponse) Vectors(provider string) ([][]float32, error) {
	out := make([][]float32, len(r.Data))
	for _, d := range r.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, NewProviderError(provider, "INVALID_RESPONSE",
				fmt.Sprintf("embedding index %d out of range", d.Index), 0, true, nil)
		}
		if out[d.Index] != nil {
			return nil, NewProviderError(provider, "INVALID_RESPONSE",
				fmt.Sprintf("duplicate embedding index %d", d.Index), 0, true, nil)
		}
		if d.Embedding == nil {
			return nil, NewProviderError(provider, "INVALID_RESPONSE",
				fmt.Sprintf("missing embedding at index %d", d.Index), 0, true, nil)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// MergeExtra copies extra parameters into body without overriding keys the
// adapter already set
func MergeExtra(body map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	for k, v := range extra {
		if _, exists := body[k]; !exists {
			body[k] = v
		}
	}
	return body
}
