package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	yaml "go.yaml.in/yaml/v3"

	"gcontrib/internal/plan"
)

// coerceToJSONBytes converts YAML or TOML config to JSON bytes so every
// format goes through the strict JSON decoder (DisallowUnknownFields).
//
// Returns (jsonBytes, format, err) where format is "json", "yaml" or "toml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
		}
		j, err := json.Marshal(normalizeKeys(v))
		if err != nil {
			return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
		}
		return j, "yaml", nil
	case ".toml":
		var v map[string]any
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, "toml", fmt.Errorf("toml unmarshal: %w", err)
		}
		j, err := json.Marshal(normalizeKeys(v))
		if err != nil {
			return nil, "toml", fmt.Errorf("toml->json marshal: %w", err)
		}
		return j, "toml", nil
	default:
		return data, "json", nil
	}
}

// normalizeKeys ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[mapKey(k)] = normalizeKeys(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeKeys(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeKeys(x[i])
		}
		return x
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeKeys(x[i])
		}
		return out
	default:
		return in
	}
}

// mapKey stringifies a decoded map key. YAML resolves an unquoted
// 2024-12-25 key to a timestamp; it is written back as a plan date.
func mapKey(k any) string {
	if t, ok := k.(time.Time); ok {
		return t.Format(plan.DateLayout)
	}
	return fmt.Sprint(k)
}
