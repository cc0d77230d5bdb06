package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// payloadKey is the wrapper some models nest tool arguments under.
const payloadKey = "payload"

// NormalizeArguments flattens raw JSON arguments into one mapping and coerces
// each declared parameter to its schema type. Contents of a nested payload
// object are merged first, then direct fields override them. Null values are
// dropped so request defaults apply.
func NormalizeArguments(t *Tool, raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}

	var top map[string]any
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}

	merged := make(map[string]any, len(top))
	if p, ok := top[payloadKey]; ok && p != nil {
		inner, err := payloadObject(p)
		if err != nil {
			return nil, err
		}
		for k, v := range inner {
			merged[k] = v
		}
	}
	for k, v := range top {
		if k == payloadKey {
			continue
		}
		merged[k] = v
	}

	if t != nil {
		for name, p := range t.Params {
			if v, ok := merged[name]; ok {
				merged[name] = coerce(v, p)
			}
		}
	}
	for k, v := range merged {
		if v == nil {
			delete(merged, k)
		}
	}
	return merged, nil
}

// payloadObject accepts the payload either as an object or as a JSON string holding one.
func payloadObject(p any) (map[string]any, error) {
	switch v := p.(type) {
	case map[string]any:
		return v, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("payload must be an object")
}

// coerce converts v towards the parameter type. Values that cannot be
// converted are returned unchanged and rejected later by decoding.
func coerce(v any, p *schema.ParameterInfo) any {
	if v == nil || p == nil {
		return v
	}
	switch p.Type {
	case schema.String:
		switch vv := v.(type) {
		case string:
			return strings.TrimSpace(vv)
		case float64:
			return strconv.FormatFloat(vv, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(vv)
		}
	case schema.Integer:
		switch vv := v.(type) {
		case string:
			s := strings.TrimSpace(vv)
			if s == "" {
				return nil
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
				return int64(f)
			}
		case float64:
			if vv == float64(int64(vv)) {
				return int64(vv)
			}
		}
	case schema.Number:
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	case schema.Boolean:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case schema.Array:
		switch vv := v.(type) {
		case []any:
			out := make([]any, 0, len(vv))
			for _, e := range vv {
				out = append(out, coerce(e, p.ElemInfo))
			}
			return out
		case string, float64, bool:
			// a lone scalar becomes a one-element list
			return []any{coerce(vv, p.ElemInfo)}
		}
	}
	return v
}
