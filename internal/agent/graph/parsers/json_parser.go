package parsers

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// maxContentLen bounds the text scanned for JSON.
const maxContentLen = 128 * 1024

// richKeys mark content that is already shaped for the client.
var richKeys = []string{"table", "image", "video", "audio", "graph", "text"}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ExtractJSONObject finds the first JSON object embedded in free text.
//
// Failure modes, all reported as ok=false:
//   - no '{' or '}' in the text, or '}' before the first '{'
//   - the span between the first '{' and the last '}' is not valid JSON and no
//     complete object starts at the first '{'
//   - the text is a JSON array without an object element
//
// A JSON array yields its first object element.
func ExtractJSONObject(text string) (map[string]any, bool) {
	if len(text) > maxContentLen {
		logx.Warn().Int("max_len", maxContentLen).Int("orig_len", len(text)).Msg("content truncated before JSON scan")
		text = truncateRunes(text, maxContentLen)
	}
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(text), &arr); err == nil {
			for _, e := range arr {
				if m, ok := e.(map[string]any); ok {
					return m, true
				}
			}
			return nil, false
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
		return obj, true
	}

	// trailing prose may itself contain braces; take the first complete object
	dec := json.NewDecoder(bytes.NewReader([]byte(text[start:])))
	if err := dec.Decode(&obj); err == nil {
		return obj, true
	}
	return nil, false
}

// ParseDecision extracts an intent decision from classifier output. It reports
// false when no JSON object can be found.
func ParseDecision(text string) (model.Decision, bool) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return model.Decision{}, false
	}
	d := model.Decision{
		Decision: strings.ToLower(strings.TrimSpace(stringField(obj, "decision"))),
		Reason:   stringField(obj, "reason"),
	}
	d.SelectedTool = strings.TrimSpace(stringField(obj, "selected_tool"))
	if d.SelectedTool == "" || strings.EqualFold(d.SelectedTool, model.NoTool) || strings.EqualFold(d.SelectedTool, "null") {
		d.SelectedTool = model.NoTool
	}
	if d.Reason == "" {
		d.Reason = "No reason"
	}
	return d, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// NeedsFormatting reports whether content is raw tool output: a JSON object
// carrying none of the rich keys. Anything that is not a JSON object is final.
func NeedsFormatting(content string) bool {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &obj); err != nil {
		return false
	}
	for _, k := range richKeys {
		if _, ok := obj[k]; ok {
			return false
		}
	}
	return true
}

// ToolCallArguments picks the tool arguments out of an object the model wrote
// as text: its "parameters" field, else "arguments", else an empty object.
func ToolCallArguments(obj map[string]any) string {
	for _, key := range []string{"parameters", "arguments"} {
		switch v := obj[key].(type) {
		case map[string]any:
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		case string:
			if json.Valid([]byte(v)) {
				return v
			}
		}
	}
	return "{}"
}
