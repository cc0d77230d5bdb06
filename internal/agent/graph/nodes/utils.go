package nodes

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

const DefaultMaxToolCalls = 4

// Graph node names.
const (
	NodeLoad         = "load"
	NodeChatbot      = "chatbot"
	NodeToolExecutor = "tools"
	NodeFormatter    = "response"
	NodeFinalize     = "finalize"
)

// Keys set on the Extra map of the final message.
const (
	ExtraIntentTool   = "intent_tool"
	ExtraSaved        = "saved"
	ExtraUsageCost    = "usage_cost"
	ExtraTotalCostUSD = "usage_cost_total_usd"
)

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// capToolCalls drops tool calls beyond the limit and reports how many were dropped.
func capToolCalls(msg *schema.Message, max int) int {
	max = normalizeMaxToolCalls(max)
	if msg == nil || len(msg.ToolCalls) <= max {
		return 0
	}
	dropped := len(msg.ToolCalls) - max
	msg.ToolCalls = msg.ToolCalls[:max]
	return dropped
}

// normalizeToolCallIDs fills in call ids some providers omit.
func normalizeToolCallIDs(msg *schema.Message, state *model.TurnState) {
	if msg == nil {
		return
	}
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			state.ToolCallIDSeq++
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
		}
	}
}

// recordUsage computes the cost of one model reply, logs it and accumulates
// it on the state.
func recordUsage(state *model.TurnState, node, modelName string, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(modelName))
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra[ExtraUsageCost] = map[string]any{
		"currency":          "USD",
		"model":             modelName,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}
	logx.Debug().
		Str("chat_id", state.ChatID).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")

	state.TotalCostUSD += totalC
	out.Extra[ExtraTotalCostUSD] = state.TotalCostUSD
}
