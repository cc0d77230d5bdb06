package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
)

//go:embed template/persona_prompt.txt
var personaPrompt string

//go:embed template/formatter_prompt.txt
var formatterPrompt string

// NoToolNote is the system note used when no tool is active.
const NoToolNote = "No matched tool. Respond as a helpful assistant."

// RenderPersona renders the primary assistant system prompt.
func RenderPersona(ctx context.Context, config model.PromptConfig) (string, error) {
	return renderSystem(ctx, "persona", personaPrompt, config)
}

// RenderFormatter renders the display-only system prompt of the formatting pass.
func RenderFormatter(ctx context.Context, config model.PromptConfig) (string, error) {
	return renderSystem(ctx, "formatter", formatterPrompt, config)
}

func renderSystem(ctx context.Context, name, text string, config model.PromptConfig) (string, error) {
	// Render via Eino prompt component (Go template) to both format and emit callbacks
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(text),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": config.AssistantName,
		"BrandName":     config.BrandName,
	})
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}

// TimeNote states the current time in the configured zone.
func TimeNote(now time.Time, config model.PromptConfig) string {
	label := config.TimeZoneLabel
	if label == "" {
		label = "UTC"
	}
	loc := time.FixedZone(label, parseOffset(config.TimeZoneShift))
	return fmt.Sprintf("Current Date and Time (%s): %s %s", label, now.In(loc).Format("2006-01-02 15:04:05"), label)
}

// parseOffset reads "+05:30" style offsets; malformed values mean UTC.
func parseOffset(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0
	}
	sign := 1
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	hh, mm, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0
	}
	m := 0
	if mm != "" {
		if m, err = strconv.Atoi(mm); err != nil {
			return 0
		}
	}
	return sign * (h*3600 + m*60)
}

// ToolNote instructs the model to extract parameters for the active tool only.
func ToolNote(tool string, params map[string]any) string {
	b, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		b = []byte("{}")
	}
	return fmt.Sprintf("Current intent: '%s'. Extract parameters ONLY for this tool.\n\nSchema:\n%s", tool, b)
}
