package providers

import (
	"context"
	"errors"
	"io"
	"time"
)

// Adapter is the capability every backend variant implements. Adapters are
// owned by exactly one registration in the router.
type Adapter interface {
	// Generate produces text for a prompt. When req.Stream is set the
	// result carries a Stream instead of Text.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, input EmbedInput) ([][]float32, error)

	// ModelInfo reports adapter metadata with secrets removed.
	ModelInfo() ModelInfo
}

// GenerateRequest represents a backend-agnostic generation request
type GenerateRequest struct {
	// Prompt is the input text
	Prompt string `json:"prompt" validate:"required"`

	// MaxTokens limits the response length; zero uses the adapter default
	MaxTokens int `json:"max_tokens,omitempty" validate:"gte=0"`

	// Temperature controls randomness; zero uses the adapter default
	Temperature float64 `json:"temperature,omitempty" validate:"gte=0,lte=2"`

	// Stream requests a lazy sequence of text chunks
	Stream bool `json:"stream,omitempty"`

	// Extra carries backend-specific parameters passed through verbatim
	Extra map[string]interface{} `json:"-"`
}

// GenerateResult is either complete text or an open stream
type GenerateResult struct {
	// ModelID is the registry id of the backend that produced the result
	ModelID string `json:"model_id,omitempty"`

	// Text is the completion for non-streaming calls
	Text string `json:"text"`

	// Stream is set for streaming calls; the caller must Close it
	Stream Stream `json:"-"`

	// Latency of the adapter call, up to the point a stream was opened
	Latency time.Duration `json:"-"`
}

// IsStream reports whether the result carries a stream
func (r *GenerateResult) IsStream() bool {
	return r != nil && r.Stream != nil
}

// Stream is a pull-based sequence of text chunks. Recv returns io.EOF after
// the last chunk. Errors from Recv are not retried by the router.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// EmbedInput is one text or an ordered sequence of texts. Single records
// the caller's shape so the result can be returned the same way.
type EmbedInput struct {
	Texts  []string
	Single bool
}

// SingleText wraps one text
func SingleText(text string) EmbedInput {
	return EmbedInput{Texts: []string{text}, Single: true}
}

// MultiText wraps an ordered sequence of texts
func MultiText(texts ...string) EmbedInput {
	return EmbedInput{Texts: texts}
}

// Len returns the number of texts
func (in EmbedInput) Len() int {
	return len(in.Texts)
}

// Validate checks the input is not empty and single inputs hold one text
func (in EmbedInput) Validate() error {
	if len(in.Texts) == 0 {
		return errors.New("embedding input cannot be empty")
	}
	if in.Single && len(in.Texts) != 1 {
		return errors.New("single embedding input must hold exactly one text")
	}
	return nil
}

// ModelInfo is adapter-reported metadata
type ModelInfo map[string]interface{}

// Clone returns a shallow copy
func (m ModelInfo) Clone() ModelInfo {
	out := make(ModelInfo, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ProviderError represents an error from a backend
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// Collect drains a stream into a single string and closes it
func Collect(s Stream) (string, error) {
	defer s.Close()

	var out []byte
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
}
