package relay

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/upb/llm-router/services/providers"
)

// GenerateRequest is the body of POST /generate. Unknown fields are
// forwarded to the target backend as extra parameters.
type GenerateRequest struct {
	Prompt      string                 `json:"prompt" validate:"required"`
	ModelID     string                 `json:"model_id,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float64                `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	Stream      bool                   `json:"stream"`
	Fallback    *bool                  `json:"fallback,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

var generateFields = map[string]bool{
	"prompt": true, "model_id": true, "max_tokens": true,
	"temperature": true, "stream": true, "fallback": true,
}

// MarshalJSON flattens Extra into the top-level object
func (r GenerateRequest) MarshalJSON() ([]byte, error) {
	type plain GenerateRequest
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if !generateFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON collects unknown fields into Extra
func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	type plain GenerateRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range generateFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*r = GenerateRequest(p)
	return nil
}

// GenerateResponse is a complete reply, and also one NDJSON stream line.
// A stream line with Error set terminates the stream.
type GenerateResponse struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TextInput is a JSON string or array of strings
type TextInput struct {
	providers.EmbedInput
}

// MarshalJSON emits a string for single inputs and an array otherwise
func (t TextInput) MarshalJSON() ([]byte, error) {
	if t.Single && len(t.Texts) == 1 {
		return json.Marshal(t.Texts[0])
	}
	if t.Texts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.Texts)
}

// UnmarshalJSON accepts a string or an array of strings
func (t *TextInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.EmbedInput = providers.SingleText(s)
		return nil
	}

	var texts []string
	if err := json.Unmarshal(data, &texts); err != nil {
		return errors.New("text must be a string or an array of strings")
	}
	t.EmbedInput = providers.MultiText(texts...)
	return nil
}

// EmbedRequest is the body of POST /embed
type EmbedRequest struct {
	Text     TextInput `json:"text"`
	ModelID  string    `json:"model_id,omitempty"`
	Fallback *bool     `json:"fallback,omitempty"`
}

// EmbedResponse carries one vector for a single text or a list otherwise
type EmbedResponse struct {
	Embedding json.RawMessage `json:"embedding"`
	ModelID   string          `json:"model_id,omitempty"`
}

// NewEmbedResponse encodes vectors in the shape of the input
func NewEmbedResponse(modelID string, single bool, vectors [][]float32) (*EmbedResponse, error) {
	var payload interface{} = vectors
	if single {
		if len(vectors) != 1 {
			return nil, errors.New("single input must yield exactly one vector")
		}
		payload = vectors[0]
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &EmbedResponse{Embedding: raw, ModelID: modelID}, nil
}

// Vectors decodes the embedding according to the requested shape
func (r *EmbedResponse) Vectors(single bool) ([][]float32, error) {
	if single {
		var v []float32
		if err := json.Unmarshal(r.Embedding, &v); err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	}
	var vs [][]float32
	if err := json.Unmarshal(r.Embedding, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}
