package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/upb/llm-router/services/providers"
	"gopkg.in/yaml.v3"
)

// ModelEntry is one registration declared in a models file
type ModelEntry struct {
	ID      string `json:"id" yaml:"id" toml:"id"`
	Default bool   `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`

	providers.ModelConfig `yaml:",inline"`
}

// ModelsFile is a declarative list of models to register at startup
type ModelsFile struct {
	// Default names the default model; it overrides per-entry flags
	Default string       `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Models  []ModelEntry `json:"models" yaml:"models" toml:"models"`
}

// LoadModelsFile reads a models file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadModelsFile(path string) (*ModelsFile, error) {
	if path == "" {
		return nil, fmt.Errorf("empty models file path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf ModelsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &mf)
	case ".json":
		err = json.Unmarshal(b, &mf)
	case ".toml":
		err = toml.Unmarshal(b, &mf)
	default:
		return nil, fmt.Errorf("unsupported models file extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}

	if err := mf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid models file %s: %w", path, err)
	}
	return &mf, nil
}

// Validate checks ids are present and unique and the default exists
func (mf *ModelsFile) Validate() error {
	seen := make(map[string]bool, len(mf.Models))
	for i, m := range mf.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("model %d: id is required", i)
		}
		if m.Type == "" {
			return fmt.Errorf("model %s: type is required", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("model %s: duplicate id", m.ID)
		}
		seen[m.ID] = true
	}
	if mf.Default != "" && !seen[mf.Default] {
		return fmt.Errorf("default model %s is not declared", mf.Default)
	}
	return nil
}

// IsDefault reports whether entry should be registered as the default
func (mf *ModelsFile) IsDefault(entry ModelEntry) bool {
	if mf.Default != "" {
		return entry.ID == mf.Default
	}
	return entry.Default
}
