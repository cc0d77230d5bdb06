package conversations

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/travel-sense/server/internal/agent/model"
)

const DefaultMaxMessages = 10

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	maxMessages      int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	n := config.MaxMessages
	if n <= 0 {
		n = DefaultMaxMessages
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		maxMessages:      n,
	}
}

// MaxMessages is the truncation window applied before each resolution pass.
func (cm *MessagesManager) MaxMessages() int {
	return cm.maxMessages
}

// =========== Turn lifecycle ===========

// LoadTurn returns the stored history with the new user query appended. The
// query itself is persisted later together with the rest of the turn.
func (cm *MessagesManager) LoadTurn(ctx context.Context, conversationID, query string) (*model.ConversationHistory, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history.Messages = append(history.Messages, schema.UserMessage(query))
	return history, nil
}

// SaveTurn appends the messages produced by a turn and stores the sticky intent.
func (cm *MessagesManager) SaveTurn(ctx context.Context, conversationID string, messages []*schema.Message, intentTool string) error {
	if len(messages) > 0 {
		if err := cm.conversationRepo.AddMessages(ctx, conversationID, messages...); err != nil {
			return err
		}
	}
	return cm.conversationRepo.SaveIntent(ctx, conversationID, intentTool)
}

// ====================== Helper functions ======================

// Truncate keeps every system message, in order, followed by the most recent
// non-system messages so that at most n messages remain. Histories of length
// <= n are returned unchanged. Tool results whose calling assistant message
// fell outside the window are dropped from the front of the window.
func Truncate(messages []*schema.Message, n int) []*schema.Message {
	if n <= 0 {
		n = DefaultMaxMessages
	}
	if len(messages) <= n {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}

	var system, rest []*schema.Message
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Role == schema.System {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	keep := n - len(system)
	if keep < 0 {
		keep = 0
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	for len(rest) > 0 && rest[0].Role == schema.Tool {
		rest = rest[1:]
	}

	result := make([]*schema.Message, 0, len(system)+len(rest))
	result = append(result, system...)
	return append(result, rest...)
}

// LatestUserText returns the text of the most recent user message. Multi-part
// content contributes only its text parts.
func LatestUserText(messages []*schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m == nil || m.Role != schema.User {
			continue
		}
		if len(m.MultiContent) == 0 {
			return m.Content
		}
		var parts []string
		for _, p := range m.MultiContent {
			if p.Type == schema.ChatMessagePartTypeText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		if len(parts) == 0 {
			return m.Content
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// CompressHistory flattens message contents into one line separated by " | ".
// With a positive budget only the most recent contents whose token count,
// measured by count, fits the budget are kept.
func CompressHistory(messages []*schema.Message, budget int, count func(string) int) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		c := strings.TrimSpace(strings.ReplaceAll(m.Content, "\n", " "))
		if c != "" {
			parts = append(parts, c)
		}
	}
	if budget > 0 && count != nil {
		used := 0
		start := len(parts)
		for start > 0 {
			n := count(parts[start-1])
			if used+n > budget {
				break
			}
			used += n
			start--
		}
		parts = parts[start:]
	}
	return strings.Join(parts, " | ")
}
