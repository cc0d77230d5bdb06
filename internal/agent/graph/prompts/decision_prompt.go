package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/decision_prompt.txt
var decisionPrompt string

// CandidateView is a retrieval candidate as shown to the classifier.
type CandidateView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
	Score       float64        `json:"score"`
}

// DecisionVars fill the intent classification prompt.
type DecisionVars struct {
	CurrentIntent string
	UserMessage   string
	History       string
	Candidates    []CandidateView
	MinToolScore  float64
	TieBand       float64
}

// RenderDecision renders the classification prompt through the Eino prompt
// component so prompt callbacks fire.
func RenderDecision(ctx context.Context, v DecisionVars) (string, error) {
	current := v.CurrentIntent
	if current == "" {
		current = "None"
	}

	cands := make([]CandidateView, len(v.Candidates))
	for i, c := range v.Candidates {
		c.Score = math.Round(c.Score*1000) / 1000
		cands[i] = c
	}
	candJSON := "[]"
	if len(cands) > 0 {
		b, err := json.MarshalIndent(cands, "", "  ")
		if err != nil {
			return "", fmt.Errorf("decision prompt candidates: %w", err)
		}
		candJSON = string(b)
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(decisionPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"CurrentIntent": current,
		"UserMessage":   v.UserMessage,
		"History":       "Full conversation history: " + v.History,
		"Candidates":    candJSON,
		"MinToolScore":  fmt.Sprintf("%.2f", v.MinToolScore),
		"TieBand":       fmt.Sprintf("%.2f", v.TieBand),
	})
	if err != nil {
		return "", fmt.Errorf("decision prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("decision prompt render: empty result")
	}
	return msgs[0].Content, nil
}
