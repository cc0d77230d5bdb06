package model

import (
	"github.com/cloudwego/eino/schema"
)

// TurnState stores per-invocation state for the Eino Graph.
// Concurrency model:
//   - Registered as Graph Local State via compose.WithGenLocalState.
//   - Read and written only inside state handlers or compose.ProcessState,
//     which Eino serialises, so no extra locking is needed.
//   - Persistence goes through the ConversationRepository in the finalize node.
type TurnState struct {
	ChatID        string
	UserID        string
	Messages      []*schema.Message // append-only within a turn
	Persisted     int               // prefix of Messages already stored
	IntentTool    string            // sticky intent, "" when no tool is active
	ToolCallIDSeq int               // local sequence to synthesize tool_call_id when provider omits

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// TurnInput is the public input of one chat turn.
type TurnInput struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// TurnResult is what a finished turn hands back to the transport layer.
type TurnResult struct {
	ChatID     string
	Message    *schema.Message
	IntentTool string
	// Envelope is set when the final message content is a tool envelope.
	Envelope *Envelope
	// Saved is false when persisting the turn failed; the reply is still returned.
	Saved   bool
	CostUSD float64
}

// Text returns the user facing text of the result.
func (r *TurnResult) Text() string {
	if r == nil {
		return ""
	}
	if r.Envelope != nil {
		return r.Envelope.Text
	}
	if r.Message == nil {
		return ""
	}
	return r.Message.Content
}
