package parsers

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/travel-sense/server/internal/agent/model"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
		key  string
		want any
	}{
		{"plain object", `{"a":1}`, true, "a", 1.0},
		{"leading and trailing prose", "Sure! here you go:\n{\"decision\":\"new\"}\nhope this helps", true, "decision", "new"},
		{"code fence", "```json\n{\"x\":\"y\"}\n```", true, "x", "y"},
		{"array yields first object", `[1, {"k":"v"}, {"k":"w"}]`, true, "k", "v"},
		{"array without objects", `[1,2,3]`, false, "", nil},
		{"trailing brace in prose", `{"a":"b"} and then } more`, true, "a", "b"},
		{"no braces", "no json here", false, "", nil},
		{"reversed braces", "} nope {", false, "", nil},
		{"broken json", `{"a": }`, false, "", nil},
		{"empty", "", false, "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, ok := ExtractJSONObject(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && obj[tc.key] != tc.want {
				t.Fatalf("obj[%q] = %v, want %v", tc.key, obj[tc.key], tc.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"boundary", "héllo", 3, "hé"},
		{"mid rune", "héllo", 2, "h"},
		{"mid four byte rune", "a😀b", 3, "a"},
		{"zero", "é", 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateRunes(tc.in, tc.n); got != tc.want {
				t.Fatalf("truncateRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestExtractJSONObjectOversizedMultibyte(t *testing.T) {
	// an odd-length ascii prefix puts the cut in the middle of a two byte rune
	text := `{"text":"Café"} ` + strings.Repeat("é", maxContentLen)
	if got := truncateRunes(text, maxContentLen); !utf8.ValidString(got) || len(got) != maxContentLen-1 {
		t.Fatalf("truncated text: valid=%v len=%d", utf8.ValidString(got), len(got))
	}
	obj, ok := ExtractJSONObject(text)
	if !ok || obj["text"] != "Café" {
		t.Fatalf("obj = %v, ok = %v", obj, ok)
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
		want model.Decision
	}{
		{"new tool", `{"decision":"NEW","selected_tool":"search_hotels","reason":"hotel"}`, true,
			model.Decision{Decision: "new", SelectedTool: "search_hotels", Reason: "hotel"}},
		{"followup missing reason", `{"decision":"followup","selected_tool":"none"}`, true,
			model.Decision{Decision: "followup", SelectedTool: model.NoTool, Reason: "No reason"}},
		{"null tool", `{"decision":"new","selected_tool":null,"reason":"multi"}`, true,
			model.Decision{Decision: "new", SelectedTool: model.NoTool, Reason: "multi"}},
		{"garbage", `I think the user wants hotels`, false, model.Decision{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseDecision(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("got %+v/%v, want %+v/%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNeedsFormatting(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`{"hotel":"x","price":10}`, true},
		{`{"text":"done","status":true}`, false},
		{`{"table":true}`, false},
		{`plain reply`, false},
		{`[{"a":1}]`, false},
		{``, false},
	}
	for _, tc := range cases {
		if got := NeedsFormatting(tc.in); got != tc.want {
			t.Fatalf("NeedsFormatting(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToolCallArguments(t *testing.T) {
	cases := []struct {
		in   map[string]any
		want string
	}{
		{map[string]any{"parameters": map[string]any{"location": "Goa"}}, `{"location":"Goa"}`},
		{map[string]any{"arguments": `{"a":1}`}, `{"a":1}`},
		{map[string]any{"name": "search_hotels"}, `{}`},
	}
	for _, tc := range cases {
		if got := ToolCallArguments(tc.in); got != tc.want {
			t.Fatalf("got %s, want %s", got, tc.want)
		}
	}
}
