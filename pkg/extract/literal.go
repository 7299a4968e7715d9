// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"gopkg.in/yaml.v3"
)

// ParseLiteral parses a payload literal into a payload object.
//
// The literal is data, never code. Strict JSON is tried first. When that
// fails the text is read as YAML, whose flow syntax is a superset of JSON that
// also accepts unquoted keys and single-quoted strings, which models emit
// often. The result must be an object. Empty text yields an empty payload.
//
// Values are normalised to JSON types: numbers become float64, mapping keys
// become strings and timestamps become RFC 3339 strings.
func ParseLiteral(text string) (techdoc.Payload, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return techdoc.Payload{}, nil
	}

	var v any
	jsonErr := json.Unmarshal([]byte(trimmed), &v)
	if jsonErr != nil {
		if yamlErr := yaml.Unmarshal([]byte(trimmed), &v); yamlErr != nil {
			return nil, &LiteralError{Text: trimmed, Err: fmt.Errorf("%w (yaml: %v)", jsonErr, yamlErr)}
		}
	}

	obj, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, &LiteralError{Text: trimmed, Err: ErrNotObject}
	}
	return techdoc.Payload(obj), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = normalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalize(vv)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
