package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSettings struct {
	APIKey      string  `validate:"required"`
	APIURL      string  `validate:"required,url"`
	MaxTokens   int     `validate:"gte=0"`
	Temperature float64 `validate:"gte=0,lte=2"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      testSettings
		wantFields []string
	}{
		{
			name:  "valid struct",
			input: testSettings{APIKey: "k", APIURL: "https://api.example.com/v1", MaxTokens: 10, Temperature: 0.7},
		},
		{
			name:       "missing required field",
			input:      testSettings{APIURL: "https://api.example.com/v1"},
			wantFields: []string{"APIKey"},
		},
		{
			name:       "invalid url",
			input:      testSettings{APIKey: "k", APIURL: "not a url"},
			wantFields: []string{"APIURL"},
		},
		{
			name:       "temperature out of range",
			input:      testSettings{APIKey: "k", APIURL: "https://x.io", Temperature: 3},
			wantFields: []string{"Temperature"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			fields := GetValidationFields(err)
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Validation failed"}
	assert.Equal(t, "Validation failed", err.Error())

	err.Fields = map[string]string{
		"B": "B is required",
		"A": "A must be a valid URL",
	}
	assert.Equal(t, "Validation failed: A must be a valid URL; B is required", err.Error())
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("x", "prompt"))
	assert.EqualError(t, ValidateRequired("  ", "prompt"), "prompt is required")
}

func TestValidateOneOf(t *testing.T) {
	allowed := []string{"llama", "mistral"}
	assert.NoError(t, ValidateOneOf("llama", "type", allowed))
	assert.Error(t, ValidateOneOf("gpt", "type", allowed))
}

func TestGetValidationFields(t *testing.T) {
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}
