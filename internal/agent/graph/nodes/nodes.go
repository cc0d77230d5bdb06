package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/graph/conversations"
	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

// NewLoadPreHandler binds the turn identity to the state and resets per-turn counters.
func NewLoadPreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		s.ChatID = in.ChatID
		s.UserID = in.UserID
		s.ToolCallIDSeq = 0
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewLoadNode reads the stored conversation and appends the new query. A
// failed read starts from an empty history so the user still gets a reply.
func NewLoadNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (*model.ConversationHistory, error) {
		history, err := mm.LoadTurn(ctx, in.ChatID, in.Query)
		if err != nil {
			logx.Error().Err(err).Str("chat_id", in.ChatID).Msg("Error loading conversation history")
			return &model.ConversationHistory{
				ConversationID: in.ChatID,
				Messages:       []*schema.Message{schema.UserMessage(in.Query)},
			}, nil
		}
		return history, nil
	})
}

// NewLoadPostHandler seeds the state with the loaded history. Only the new
// user query is unsaved.
func NewLoadPostHandler() func(context.Context, *model.ConversationHistory, *model.TurnState) (*model.ConversationHistory, error) {
	return func(ctx context.Context, out *model.ConversationHistory, s *model.TurnState) (*model.ConversationHistory, error) {
		s.Messages = append(s.Messages[:0], out.Messages...)
		s.Persisted = len(s.Messages) - 1
		if s.Persisted < 0 {
			s.Persisted = 0
		}
		s.IntentTool = out.IntentTool
		logx.Debug().
			Str("chat_id", s.ChatID).
			Int("messages", len(s.Messages)).
			Str("intent_tool", s.IntentTool).
			Msg("Conversation loaded")
		return out, nil
	}
}

// NewChatbotNode runs one chatbot pass over the state history and records
// its reply, intent and cost on the state.
func NewChatbotNode(cb *Chatbot, modelName string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.ConversationHistory) (*schema.Message, error) {
		var (
			history []*schema.Message
			sticky  string
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			history = append([]*schema.Message(nil), s.Messages...)
			sticky = s.IntentTool
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		step := cb.Run(ctx, history, sticky)

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			normalizeToolCallIDs(step.Message, s)
			recordUsage(s, NodeChatbot, modelName, step.Message)
			s.IntentTool = step.IntentTool
			s.Messages = append(s.Messages, step.Message)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return step.Message, nil
	})
}

// NewToolExecutorCondition routes replies carrying tool calls to the tools node.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		if input != nil && len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to ToolExecutor")
			return NodeToolExecutor, nil
		}
		logx.Debug().Msg("No tool calls - continuing to finalize")
		return NodeFinalize, nil
	}
}

// NewToolExecutorPreHandler caps the number of calls executed in one turn.
func NewToolExecutorPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, s *model.TurnState) (*schema.Message, error) {
		if dropped := capToolCalls(in, maxToolCalls); dropped > 0 {
			logx.Warn().
				Int("dropped", dropped).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Str("chat_id", s.ChatID).
				Msg("Tool call limit exceeded - extra calls dropped")
		}
		logx.Debug().
			Int("tool_call_count", len(in.ToolCalls)).
			Str("chat_id", s.ChatID).
			Msg("Tool execution attempt")
		return in, nil
	}
}

// NewToolExecutorPostHandler appends tool results to the state.
func NewToolExecutorPostHandler() func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, s *model.TurnState) ([]*schema.Message, error) {
		s.Messages = append(s.Messages, out...)
		return out, nil
	}
}

// NewFormatterNode runs the formatting pass on the last tool result.
func NewFormatterNode(f *Formatter) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []*schema.Message) (*schema.Message, error) {
		var last *schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			if n := len(s.Messages); n > 0 {
				last = s.Messages[n-1]
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		reply, failed := f.Run(ctx, last)
		if reply == nil {
			return last, nil
		}

		err = compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			recordUsage(s, NodeFormatter, f.modelName, reply)
			if failed {
				s.IntentTool = ""
			}
			s.Messages = append(s.Messages, reply)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return reply, nil
	})
}

// NewFinalizeNode stores the unsaved messages and the sticky intent. A
// failed save is logged and flagged on the reply; it never aborts the turn.
func NewFinalizeNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in *schema.Message) (*schema.Message, error) {
		var (
			chatID  string
			pending []*schema.Message
			intent  string
			total   float64
		)
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			chatID, intent, total = s.ChatID, s.IntentTool, s.TotalCostUSD
			if s.Persisted < len(s.Messages) {
				pending = append(pending, s.Messages[s.Persisted:]...)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		saved := true
		if err := mm.SaveTurn(ctx, chatID, pending, intent); err != nil {
			saved = false
			logx.Error().Err(err).Str("chat_id", chatID).Msg("Error saving conversation turn")
		} else {
			_ = compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
				s.Persisted += len(pending)
				return nil
			})
			logx.Debug().Str("chat_id", chatID).Int("messages", len(pending)).Str("intent_tool", intent).Msg("Conversation turn saved")
		}

		if in == nil {
			in = schema.AssistantMessage(EmptyReplyText, nil)
		}
		out := *in
		out.Extra = make(map[string]any, len(in.Extra)+3)
		for k, v := range in.Extra {
			out.Extra[k] = v
		}
		out.Extra[ExtraIntentTool] = intent
		out.Extra[ExtraSaved] = saved
		out.Extra[ExtraTotalCostUSD] = total
		return &out, nil
	})
}
