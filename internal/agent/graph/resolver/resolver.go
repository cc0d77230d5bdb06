package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/graph/conversations"
	"github.com/travel-sense/server/internal/agent/graph/parsers"
	"github.com/travel-sense/server/internal/agent/graph/prompts"
	"github.com/travel-sense/server/internal/agent/graph/tools"
	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// Input is everything one resolution step looks at.
type Input struct {
	UserMessage string
	History     []*schema.Message
	StickyTool  string
	Candidates  []model.Candidate
}

// Outcome is the resolved sticky intent and how it was reached.
type Outcome struct {
	// Tool is the active tool for this turn, "" for none.
	Tool     string
	Decision model.Decision
	Fallback bool
}

// Resolver decides the active tool of a turn.
type Resolver struct {
	classifier Classifier
	registry   *tools.Registry
	cfg        model.ResolverConfig
	count      func(string) int
}

// NewResolver wires a classifier to the registry. count measures history
// tokens; nil disables the history budget.
func NewResolver(classifier Classifier, registry *tools.Registry, cfg model.ResolverConfig, count func(string) int) *Resolver {
	return &Resolver{classifier: classifier, registry: registry, cfg: cfg, count: count}
}

// Resolve runs one classification step. Unparsable output and classifier
// timeouts fall back to the score threshold policy. Other classifier errors
// are returned together with an outcome that keeps the sticky intent.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Outcome, error) {
	views := make([]prompts.CandidateView, 0, len(in.Candidates))
	for _, c := range in.Candidates {
		v := prompts.CandidateView{Name: c.Name, Description: c.Description, Score: c.Score}
		if t, ok := r.registry.Get(c.Name); ok {
			v.Schema = t.JSONSchema()
		}
		views = append(views, v)
	}

	prompt, err := prompts.RenderDecision(ctx, prompts.DecisionVars{
		CurrentIntent: in.StickyTool,
		UserMessage:   in.UserMessage,
		History:       conversations.CompressHistory(in.History, r.cfg.HistoryTokenBudget, r.count),
		Candidates:    views,
		MinToolScore:  r.cfg.MinToolScore,
		TieBand:       r.cfg.TieBand,
	})
	if err != nil {
		return Outcome{Tool: in.StickyTool}, err
	}

	raw, err := r.classify(ctx, prompt)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			logx.Warn().Err(err).Msg("Intent classification timed out, using score threshold fallback")
			return r.fallback(in), nil
		}
		return Outcome{Tool: in.StickyTool}, fmt.Errorf("classify intent: %w", err)
	}

	d, ok := parsers.ParseDecision(raw)
	if !ok {
		logx.Warn().Str("raw", raw).Msg("Intent decision parsing failed, using score threshold fallback")
		return r.fallback(in), nil
	}

	tool := ApplyDecision(in.StickyTool, d, r.registry.Has)
	logx.Debug().
		Str("decision", d.Decision).
		Str("selected_tool", d.SelectedTool).
		Str("reason", d.Reason).
		Str("intent_tool", tool).
		Msg("Intent resolved")
	return Outcome{Tool: tool, Decision: d}, nil
}

func (r *Resolver) classify(ctx context.Context, prompt string) (string, error) {
	if r.cfg.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ClassifyTimeout)
		defer cancel()
	}
	start := time.Now()
	raw, err := r.classifier.Classify(ctx, prompt)
	logx.Debug().Dur("elapsed", time.Since(start)).Int("raw_len", len(raw)).Msg("Intent classifier returned")
	return raw, err
}

func (r *Resolver) fallback(in Input) Outcome {
	tool := Fallback(in.StickyTool, in.Candidates, r.cfg.SwitchThreshold)
	logx.Debug().Str("intent_tool", tool).Msg("Fallback intent applied")
	return Outcome{Tool: tool, Fallback: true}
}

// ApplyDecision is the sticky intent transition for a parsed decision.
// followup keeps the intent, new switches to a registered selected tool or
// clears it, anything else keeps it.
func ApplyDecision(sticky string, d model.Decision, isTool func(string) bool) string {
	switch d.Decision {
	case model.DecisionFollowup:
		return sticky
	case model.DecisionNew:
		if d.SelectedTool != model.NoTool && isTool != nil && isTool(d.SelectedTool) {
			return d.SelectedTool
		}
		return ""
	default:
		return sticky
	}
}

// Fallback is the transition used when no decision could be parsed: switch to
// the top candidate at or above threshold, else adopt it when nothing is
// sticky, else keep the sticky intent.
func Fallback(sticky string, candidates []model.Candidate, threshold float64) string {
	if len(candidates) == 0 {
		return sticky
	}
	top := candidates[0]
	if top.Score >= threshold {
		return top.Name
	}
	if sticky == "" {
		return top.Name
	}
	return sticky
}
