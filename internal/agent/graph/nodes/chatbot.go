package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/travel-sense/server/internal/agent/graph/conversations"
	"github.com/travel-sense/server/internal/agent/graph/parsers"
	"github.com/travel-sense/server/internal/agent/graph/prompts"
	"github.com/travel-sense/server/internal/agent/graph/resolver"
	"github.com/travel-sense/server/internal/agent/graph/tools"
	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// User facing fallback texts.
const (
	PrimaryFailureText   = "Something went wrong. Please try again."
	EmptyReplyText       = "Sorry, I couldn't generate a response."
	FormatterFailureText = "An unhandled error occurred in the response phase."
)

// CandidateSource ranks registered tools against a query.
type CandidateSource interface {
	Retrieve(ctx context.Context, query string, k int) []model.Candidate
}

// IntentResolver picks the active tool of a turn.
type IntentResolver interface {
	Resolve(ctx context.Context, in resolver.Input) (resolver.Outcome, error)
}

type ChatbotConfig struct {
	Retriever   CandidateSource
	Resolver    IntentResolver
	Registry    *tools.Registry
	Model       einomodel.ToolCallingChatModel
	ModelName   string
	Prompt      model.PromptConfig
	Resolution  model.ResolverConfig
	MaxMessages int
	Timeout     time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Chatbot runs the resolution pass and the primary model call of a turn.
type Chatbot struct {
	cfg ChatbotConfig
}

func NewChatbot(cfg ChatbotConfig) (*Chatbot, error) {
	if cfg.Retriever == nil || cfg.Resolver == nil || cfg.Registry == nil || cfg.Model == nil {
		return nil, fmt.Errorf("chatbot dependencies are not properly initialized")
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = conversations.DefaultMaxMessages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Chatbot{cfg: cfg}, nil
}

// Step is the result of one chatbot pass.
type Step struct {
	Message *schema.Message
	// IntentTool is the sticky intent to carry forward.
	IntentTool string
	Candidates []model.Candidate
	Failed     bool
}

// Run resolves the intent over history and asks the primary model for the
// next assistant message. It never returns an error: failures become a
// generic assistant reply and clear the intent.
func (c *Chatbot) Run(ctx context.Context, history []*schema.Message, sticky string) Step {
	window := conversations.Truncate(history, c.cfg.MaxMessages)
	query := conversations.LatestUserText(window)

	candidates := c.cfg.Retriever.Retrieve(ctx, query, c.cfg.Resolution.TopK)
	outcome, err := c.cfg.Resolver.Resolve(ctx, resolver.Input{
		UserMessage: query,
		History:     window,
		StickyTool:  sticky,
		Candidates:  candidates,
	})
	intent, active := outcome.Tool, outcome.Tool
	if err != nil {
		// no tool this turn; the stored intent stays as it was
		logx.Error().Err(err).Str("intent_tool", sticky).Msg("Intent resolution failed")
		intent, active = sticky, ""
	}
	if active != "" && !c.cfg.Registry.Has(active) {
		logx.Warn().Str("intent_tool", active).Msg("Active intent is not a registered tool")
		intent, active = "", ""
	}

	msgs, err := c.buildMessages(ctx, active, window)
	if err != nil {
		return c.fail(err)
	}

	resp, err := c.generate(ctx, msgs, c.bindTools(active, candidates))
	if err != nil {
		return c.fail(err)
	}

	return Step{
		Message:    reconcile(resp, active),
		IntentTool: intent,
		Candidates: candidates,
	}
}

func (c *Chatbot) fail(err error) Step {
	logx.Error().Err(err).Msg("Primary model call failed")
	return Step{
		Message: schema.AssistantMessage(PrimaryFailureText, nil),
		Failed:  true,
	}
}

// buildMessages assembles persona, time note, tool note and the history window.
func (c *Chatbot) buildMessages(ctx context.Context, active string, window []*schema.Message) ([]*schema.Message, error) {
	persona, err := prompts.RenderPersona(ctx, c.cfg.Prompt)
	if err != nil {
		return nil, err
	}

	note := prompts.NoToolNote
	if t, ok := c.cfg.Registry.Get(active); ok && active != "" {
		note = prompts.ToolNote(active, t.JSONSchema())
	}

	msgs := make([]*schema.Message, 0, len(window)+3)
	msgs = append(msgs,
		schema.SystemMessage(persona),
		schema.SystemMessage(prompts.TimeNote(c.cfg.Now(), c.cfg.Prompt)),
		schema.SystemMessage(note),
	)
	return append(msgs, window...), nil
}

// bindTools returns the schemas offered to the primary model: the active tool
// only, else the top candidates, else every tool.
func (c *Chatbot) bindTools(active string, candidates []model.Candidate) []*schema.ToolInfo {
	if active != "" {
		return c.cfg.Registry.Infos(active)
	}
	n := c.cfg.Resolution.FallbackBind
	if n <= 0 {
		n = 2
	}
	names := make([]string, 0, n)
	for _, cand := range candidates {
		if len(names) == n {
			break
		}
		if c.cfg.Registry.Has(cand.Name) {
			names = append(names, cand.Name)
		}
	}
	// an empty list binds the full set
	return c.cfg.Registry.Infos(names...)
}

func (c *Chatbot) generate(ctx context.Context, msgs []*schema.Message, infos []*schema.ToolInfo) (*schema.Message, error) {
	m := c.cfg.Model
	if len(infos) > 0 {
		bound, err := m.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		m = bound
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	logx.Debug().Int("bound_tools", len(infos)).Int("messages", len(msgs)).Msg("AI thinking...")
	resp, err := m.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("primary model returned no message")
	}
	return resp, nil
}

// reconcile turns a model reply into the message appended to the
// conversation: native tool calls win, then a JSON object for the active
// tool, then plain text.
func reconcile(resp *schema.Message, active string) *schema.Message {
	if resp.Role == "" {
		resp.Role = schema.Assistant
	}
	if len(resp.ToolCalls) > 0 {
		logx.Debug().Int("tool_count", len(resp.ToolCalls)).Msg("Calling tools")
		return resp
	}

	if active != "" {
		if obj, ok := parsers.ExtractJSONObject(resp.Content); ok {
			call := schema.ToolCall{
				ID:   uuid.NewString(),
				Type: "function",
				Function: schema.FunctionCall{
					Name:      active,
					Arguments: parsers.ToolCallArguments(obj),
				},
			}
			msg := schema.AssistantMessage("", []schema.ToolCall{call})
			msg.ResponseMeta = resp.ResponseMeta
			logx.Debug().Str("tool", active).Msg("Synthesized tool call from reply JSON")
			return msg
		}
	}

	if strings.TrimSpace(resp.Content) == "" {
		msg := schema.AssistantMessage(EmptyReplyText, nil)
		msg.ResponseMeta = resp.ResponseMeta
		return msg
	}
	logx.Debug().Msg("AI response ready")
	return resp
}
