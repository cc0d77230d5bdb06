package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/agent/repo"
	"github.com/travel-sense/server/internal/catalog"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

const (
	userHeader = "X-User-Id"
	userKey    = "user_id"

	chatNameWords  = 4
	chatNameMaxLen = 100

	answerFailedText = "Sorry, could not answer your question, please try again later.."
	responseTypeText = "text"
)

type queryRequest struct {
	Query  string `json:"query"`
	ChatID string `json:"chat_id"`
}

type chatRequest struct {
	ChatID string `json:"chat_id"`
}

// queryResponse is the body of /handle_user_query.
type queryResponse struct {
	Status         bool     `json:"status"`
	Msg            string   `json:"msg,omitempty"`
	Error          string   `json:"error,omitempty"`
	Text           string   `json:"text"`
	Data           any      `json:"data"`
	EndPrompt      bool     `json:"end_prompt"`
	Table          bool     `json:"table"`
	IsDownloadable bool     `json:"is_downloadable"`
	Graph          bool     `json:"graph"`
	GraphType      []string `json:"graph_type"`
	GraphTitle     string   `json:"graph_title"`
	Timestamp      int64    `json:"timestamp"`
	Image          bool     `json:"image"`
	Video          bool     `json:"video"`
	Audio          bool     `json:"audio"`
	Button         bool     `json:"button"`
	ButtonText     []string `json:"button_text"`
	SearchType     string   `json:"search_type"`
}

func (s *Server) failedQuery(msg string) queryResponse {
	return queryResponse{
		Msg:        msg,
		Text:       answerFailedText,
		EndPrompt:  true,
		GraphType:  []string{},
		ButtonText: []string{},
		Timestamp:  s.now().UnixMilli(),
	}
}

// session resolves the caller. Unauthenticated callers share the default user.
func (s *Server) session(c *fiber.Ctx) error {
	user := strings.TrimSpace(c.Get(userHeader))
	if user == "" {
		user = s.cfg.DefaultUserID
	}
	c.Locals(userKey, user)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	if v, ok := c.Locals(userKey).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleNewChat(c *fiber.Ctx) error {
	now := s.now().UnixMilli()
	chat := model.ChatRecord{
		UserID:      userID(c),
		ChatID:      uuid.NewString(),
		ChatName:    "New Chat",
		CreatedDate: now,
		LUT:         now,
	}
	if err := s.deps.Chats.InsertChat(c.UserContext(), chat); err != nil {
		logx.Error().Err(err).Str("user_id", chat.UserID).Msg("create chat failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "chat_id": nil})
	}
	logx.Info().Str("user_id", chat.UserID).Str("chat_id", chat.ChatID).Msg("chat created")
	return c.JSON(fiber.Map{"status": true, "chat_id": chat.ChatID})
}

func (s *Server) handleUserQuery(c *fiber.Ctx) error {
	ctx := c.UserContext()
	user := userID(c)

	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(s.failedQuery("Invalid request body"))
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.ChatID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(s.failedQuery("Chat ID is required"))
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(s.failedQuery("Query is required"))
	}

	chat, err := s.deps.Chats.GetChat(ctx, user, req.ChatID)
	if err != nil {
		if errx.IsNotFound(err) {
			return c.Status(fiber.StatusBadRequest).JSON(s.failedQuery("Chat ID is required"))
		}
		logx.Error().Err(err).Str("chat_id", req.ChatID).Msg("load chat failed")
		return c.Status(fiber.StatusBadRequest).JSON(s.failedQuery(errx.SystemErrorMessage))
	}
	if !chat.ChatInitiated {
		if err := s.deps.Chats.RenameChat(ctx, user, req.ChatID, chatName(req.Query)); err != nil {
			logx.Warn().Err(err).Str("chat_id", req.ChatID).Msg("naming chat failed")
		}
	}

	res, err := s.deps.Runner.Invoke(ctx, model.TurnInput{ChatID: req.ChatID, UserID: user, Query: req.Query})
	if err != nil {
		logx.Error().Err(err).Str("chat_id", req.ChatID).Msg("turn failed")
		status := fiber.StatusBadRequest
		if errors.Is(err, repo.ErrLockBusy) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(s.failedQuery(""))
	}

	out := s.toResponse(res)
	turn := model.TurnRecord{
		UserQuery:      req.Query,
		AIResponse:     out.Text,
		Data:           out.Data,
		Timestamp:      out.Timestamp,
		ResponseType:   responseTypeText,
		EndPrompt:      out.EndPrompt,
		Table:          out.Table,
		Graph:          out.Graph,
		GraphType:      out.GraphType,
		GraphTitle:     out.GraphTitle,
		IsDownloadable: out.IsDownloadable,
		Image:          out.Image,
		Video:          out.Video,
		Audio:          out.Audio,
		Button:         out.Button,
		ButtonText:     out.ButtonText,
		SearchType:     out.SearchType,
	}
	if err := s.deps.Chats.AppendTurn(ctx, user, req.ChatID, turn); err != nil {
		logx.Error().Err(err).Str("chat_id", req.ChatID).Msg("store turn failed")
	}
	return c.JSON(out)
}

func (s *Server) toResponse(res *model.TurnResult) queryResponse {
	out := queryResponse{
		Status:     true,
		Text:       res.Text(),
		EndPrompt:  true,
		GraphType:  []string{},
		ButtonText: []string{},
		Timestamp:  s.now().UnixMilli(),
	}
	env := res.Envelope
	if env == nil {
		return out
	}
	out.Status = env.Status
	out.Error = env.Error
	out.Data = env.Data
	out.EndPrompt = env.EndPrompt
	out.Table = env.Table
	out.IsDownloadable = env.IsDownloadable
	out.Graph = env.Graph
	out.GraphTitle = env.GraphTitle
	out.Image = env.Image
	out.Video = env.Video
	out.Audio = env.Audio
	out.Button = env.Button
	out.SearchType = env.SearchType
	if env.GraphType != nil {
		out.GraphType = env.GraphType
	}
	if env.ButtonText != nil {
		out.ButtonText = env.ButtonText
	}
	return out
}

// chatName is the first few words of the opening query.
func chatName(query string) string {
	words := strings.Fields(query)
	if len(words) > chatNameWords {
		words = words[:chatNameWords]
	}
	name := strings.Join(words, " ")
	if r := []rune(name); len(r) > chatNameMaxLen {
		name = string(r[:chatNameMaxLen])
	}
	return name
}

func (s *Server) handleGetChatConversation(c *fiber.Ctx) error {
	chatID := c.Query("chat_id")
	if chatID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "chat_data": nil})
	}
	user := userID(c)
	turns, err := s.deps.Chats.ListTurns(c.UserContext(), user, chatID)
	if err != nil {
		logx.Error().Err(err).Str("chat_id", chatID).Msg("load conversation failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "chat_data": nil})
	}
	if len(turns) == 0 {
		return c.JSON(fiber.Map{"status": false, "chat_data": nil})
	}
	return c.JSON(fiber.Map{
		"status":    true,
		"chat_data": model.ChatConversation{ChatID: chatID, UserID: user, Conversation: turns},
	})
}

func (s *Server) handleGetChatHistory(c *fiber.Ctx) error {
	chats, err := s.deps.Chats.ListChats(c.UserContext(), userID(c))
	if err != nil {
		logx.Error().Err(err).Msg("load chat history failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "chat_list": []model.ChatRecord{}})
	}
	if chats == nil {
		chats = []model.ChatRecord{}
	}
	return c.JSON(fiber.Map{"status": true, "chat_list": chats})
}

func (s *Server) handleDeleteChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil || req.ChatID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "msg": "Chat ID is required"})
	}
	if err := s.deps.Chats.DeleteChat(c.UserContext(), userID(c), req.ChatID); err != nil {
		msg := ""
		if errx.IsNotFound(err) {
			msg = "Chat not found"
		} else {
			logx.Error().Err(err).Str("chat_id", req.ChatID).Msg("delete chat failed")
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "msg": msg})
	}
	if s.deps.History != nil {
		if err := s.deps.History.ClearHistory(c.UserContext(), req.ChatID); err != nil {
			logx.Warn().Err(err).Str("chat_id", req.ChatID).Msg("clearing conversation history failed")
		}
	}
	return c.JSON(fiber.Map{"status": true, "msg": "Chat deleted successfully"})
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No audio file provided"})
	}
	if s.deps.Transcriber == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Transcription is not configured"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Could not read audio file"})
	}
	defer f.Close()

	name := fh.Filename
	if name == "" {
		name = "recording.webm"
	}
	text, err := s.deps.Transcriber.Transcribe(c.UserContext(), name, f)
	if err != nil {
		logx.Error().Err(err).Str("file", name).Msg("transcription failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"text": text})
}

var downloadable = map[string]bool{
	catalog.Hotels:   true,
	catalog.Flights:  true,
	catalog.Packages: true,
}

func (s *Server) handleData(c *fiber.Ctx) error {
	kind := c.Params("type")
	if !downloadable[kind] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid data type"})
	}
	raw, err := s.deps.Catalog.Raw(c.UserContext(), kind)
	if err != nil {
		logx.Error().Err(err).Str("type", kind).Msg("load catalog data failed")
		return c.Status(errx.StatusOf(err)).JSON(fiber.Map{"error": "Data not found"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}
