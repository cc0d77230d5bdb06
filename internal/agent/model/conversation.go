package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessages appends messages to the conversation log in order.
	AddMessages(ctx context.Context, conversationID string, messages ...*schema.Message) error

	// LoadHistory retrieves the stored messages and sticky intent for a conversation.
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// SaveIntent stores the sticky intent. An empty tool clears it.
	SaveIntent(ctx context.Context, conversationID string, tool string) error
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
	IntentTool     string
}

// TurnLocker serialises turns that target the same conversation.
type TurnLocker interface {
	Acquire(ctx context.Context, conversationID string) (release func(context.Context) error, err error)
}
