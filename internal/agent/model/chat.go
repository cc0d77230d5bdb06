package model

import "context"

// ChatRecord is the metadata row of one chat, keyed by (UserID, ChatID).
type ChatRecord struct {
	UserID        string `json:"user_id"`
	ChatID        string `json:"chat_id"`
	ChatName      string `json:"chat_name"`
	CreatedDate   int64  `json:"created_date"`
	LUT           int64  `json:"lut"`
	IsDeleted     bool   `json:"is_deleted"`
	ChatInitiated bool   `json:"chat_initiated"`
}

// TurnRecord is one stored question/answer pair, keyed by (UserID, ChatID, Timestamp).
type TurnRecord struct {
	UserQuery      string   `json:"user_query"`
	AIResponse     string   `json:"ai_response"`
	Data           any      `json:"data"`
	Timestamp      int64    `json:"timestamp"`
	ResponseType   string   `json:"response_type"`
	EndPrompt      bool     `json:"end_prompt"`
	Table          bool     `json:"table"`
	Graph          bool     `json:"graph"`
	GraphType      []string `json:"graph_type"`
	GraphTitle     string   `json:"graph_title"`
	IsDownloadable bool     `json:"is_downloadable"`
	Image          bool     `json:"image"`
	Video          bool     `json:"video"`
	Audio          bool     `json:"audio"`
	Button         bool     `json:"button"`
	ButtonText     []string `json:"button_text"`
	SearchType     string   `json:"search_type"`
}

// ChatConversation is a chat with its stored turns.
type ChatConversation struct {
	ChatID       string       `json:"chat_id"`
	UserID       string       `json:"user_id"`
	Conversation []TurnRecord `json:"conversation"`
}

// ChatStore persists chat metadata and turn records. Every lookup carries the user id.
type ChatStore interface {
	InsertChat(ctx context.Context, chat ChatRecord) error
	// GetChat returns an errx not-found error when the chat does not exist.
	GetChat(ctx context.Context, userID, chatID string) (*ChatRecord, error)
	// ListChats returns non-deleted chats ordered by LUT descending.
	ListChats(ctx context.Context, userID string) ([]ChatRecord, error)
	// RenameChat sets the name, marks the chat initiated and bumps LUT.
	RenameChat(ctx context.Context, userID, chatID, name string) error
	// DeleteChat flips the soft-delete flag and bumps LUT.
	DeleteChat(ctx context.Context, userID, chatID string) error
	AppendTurn(ctx context.Context, userID, chatID string, turn TurnRecord) error
	// ListTurns returns turns ordered by timestamp ascending.
	ListTurns(ctx context.Context, userID, chatID string) ([]TurnRecord, error)
}
