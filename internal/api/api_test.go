package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/model"
	"github.com/travel-sense/server/internal/agent/repo"
	"github.com/travel-sense/server/internal/catalog"
)

type fakeRunner struct {
	res    *model.TurnResult
	err    error
	inputs []model.TurnInput
}

func (r *fakeRunner) Invoke(_ context.Context, in model.TurnInput) (*model.TurnResult, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return nil, r.err
	}
	return r.res, nil
}

type fakeTranscriber struct {
	text string
	got  string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	b, _ := io.ReadAll(audio)
	f.got = string(b)
	return f.text, nil
}

type fixture struct {
	srv     *Server
	chats   *repo.RedisChatStore
	history *repo.RedisConversationRepository
	runner  *fakeRunner
}

func newFixture(t *testing.T, runner *fakeRunner, tr Transcriber) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	chats := repo.NewRedisChatStore(rdb)
	history := repo.NewRedisConversationRepository(rdb, time.Hour, 0)
	cat := catalog.New(catalog.NewMemoryStore(map[string][]catalog.Record{
		catalog.Hotels: {{"id": "H1", "name": "Reef Villa", "location": "Maldives"}},
	}))
	srv := New(Config{DefaultUserID: "guest", CORSOrigins: "*"}, Deps{
		Runner:      runner,
		Chats:       chats,
		History:     history,
		Catalog:     cat,
		Transcriber: tr,
	})
	return &fixture{srv: srv, chats: chats, history: history, runner: runner}
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := f.srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(body) > 0 && body[0] == '{' {
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
	}
	return resp.StatusCode, out
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (f *fixture) newChat(t *testing.T) string {
	t.Helper()
	code, body := f.do(t, jsonRequest(http.MethodPost, "/new_chat", nil))
	if code != http.StatusOK || body["status"] != true {
		t.Fatalf("new_chat: %d %v", code, body)
	}
	return body["chat_id"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, nil)
	resp, err := f.srv.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "OK" {
		t.Fatalf("got %d %q", resp.StatusCode, b)
	}
}

func TestUserQueryWithEnvelope(t *testing.T) {
	env := model.Success("Found 1 hotels in Maldives.", []any{map[string]any{"id": "H1"}}).WithSearchType(model.SearchTypeHotel)
	runner := &fakeRunner{res: &model.TurnResult{
		Message:    schema.AssistantMessage(env.JSON(), nil),
		Envelope:   &env,
		IntentTool: "search_hotels",
		Saved:      true,
	}}
	f := newFixture(t, runner, nil)
	chatID := f.newChat(t)

	code, body := f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", queryRequest{
		Query: "  show me hotels in the Maldives please ", ChatID: chatID,
	}))
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	if body["text"] != "Found 1 hotels in Maldives." || body["search_type"] != model.SearchTypeHotel || body["status"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(runner.inputs) != 1 || runner.inputs[0].Query != "show me hotels in the Maldives please" || runner.inputs[0].UserID != "guest" {
		t.Fatalf("runner inputs: %+v", runner.inputs)
	}

	ctx := context.Background()
	chat, err := f.chats.GetChat(ctx, "guest", chatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.ChatName != "show me hotels in" || !chat.ChatInitiated {
		t.Fatalf("chat not named: %+v", chat)
	}
	turns, _ := f.chats.ListTurns(ctx, "guest", chatID)
	if len(turns) != 1 || turns[0].AIResponse != "Found 1 hotels in Maldives." || turns[0].ResponseType != "text" {
		t.Fatalf("turns: %+v", turns)
	}
}

func TestUserQueryToolFailure(t *testing.T) {
	env := model.Failure("Flight ID not found.", "Flight ID not found")
	runner := &fakeRunner{res: &model.TurnResult{
		Message:    schema.AssistantMessage(env.JSON(), nil),
		Envelope:   &env,
		IntentTool: "book_flight",
		Saved:      true,
	}}
	f := newFixture(t, runner, nil)
	chatID := f.newChat(t)

	code, body := f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", queryRequest{
		Query: "book flight FL404 for me", ChatID: chatID,
	}))
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	if body["status"] != false || body["text"] != "Flight ID not found." || body["error"] != "Flight ID not found" {
		t.Fatalf("failure envelope not carried through: %v", body)
	}
}

func TestUserQueryPlainText(t *testing.T) {
	runner := &fakeRunner{res: &model.TurnResult{Message: schema.AssistantMessage("Hello there!", nil), Saved: true}}
	f := newFixture(t, runner, nil)
	chatID := f.newChat(t)

	code, body := f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", queryRequest{Query: "hi", ChatID: chatID}))
	if code != http.StatusOK || body["text"] != "Hello there!" || body["data"] != nil || body["end_prompt"] != true {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestUserQueryRejections(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, nil)
	chatID := f.newChat(t)

	tests := []struct {
		name string
		req  queryRequest
		msg  string
	}{
		{"missing chat", queryRequest{Query: "hi"}, "Chat ID is required"},
		{"unknown chat", queryRequest{Query: "hi", ChatID: "nope"}, "Chat ID is required"},
		{"blank query", queryRequest{Query: "   ", ChatID: chatID}, "Query is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", tt.req))
			if code != http.StatusBadRequest || body["status"] != false || body["msg"] != tt.msg {
				t.Fatalf("got %d %v", code, body)
			}
		})
	}
	if len(f.runner.inputs) != 0 {
		t.Fatalf("runner must not be called, got %d calls", len(f.runner.inputs))
	}
}

func TestUserQueryRunnerFailure(t *testing.T) {
	f := newFixture(t, &fakeRunner{err: errors.New("boom")}, nil)
	chatID := f.newChat(t)

	code, body := f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", queryRequest{Query: "hi", ChatID: chatID}))
	if code != http.StatusBadRequest || body["text"] != answerFailedText {
		t.Fatalf("got %d %v", code, body)
	}
	turns, _ := f.chats.ListTurns(context.Background(), "guest", chatID)
	if len(turns) != 0 {
		t.Fatalf("failed turns must not be stored: %+v", turns)
	}
}

func TestChatHistoryIsPerUser(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, nil)
	f.newChat(t)

	req := httptest.NewRequest(http.MethodGet, "/get_chat_history", nil)
	code, body := f.do(t, req)
	if code != http.StatusOK || len(body["chat_list"].([]any)) != 1 {
		t.Fatalf("guest history: %d %v", code, body)
	}

	req = httptest.NewRequest(http.MethodGet, "/get_chat_history", nil)
	req.Header.Set(userHeader, "alice")
	code, body = f.do(t, req)
	if code != http.StatusOK || body["status"] != true || len(body["chat_list"].([]any)) != 0 {
		t.Fatalf("alice history: %d %v", code, body)
	}
}

func TestChatConversationAndDelete(t *testing.T) {
	runner := &fakeRunner{res: &model.TurnResult{Message: schema.AssistantMessage("Sure.", nil), Saved: true}}
	f := newFixture(t, runner, nil)
	chatID := f.newChat(t)

	code, body := f.do(t, httptest.NewRequest(http.MethodGet, "/get_chat_conversation?chat_id="+chatID, nil))
	if code != http.StatusOK || body["status"] != false || body["chat_data"] != nil {
		t.Fatalf("empty conversation: %d %v", code, body)
	}

	f.do(t, jsonRequest(http.MethodPost, "/handle_user_query", queryRequest{Query: "plan a trip", ChatID: chatID}))
	ctx := context.Background()
	if err := f.history.AddMessages(ctx, chatID, schema.UserMessage("plan a trip"), schema.AssistantMessage("Sure.", nil)); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	code, body = f.do(t, httptest.NewRequest(http.MethodGet, "/get_chat_conversation?chat_id="+chatID, nil))
	if code != http.StatusOK || body["status"] != true {
		t.Fatalf("conversation: %d %v", code, body)
	}
	data := body["chat_data"].(map[string]any)
	if conv := data["conversation"].([]any); len(conv) != 1 {
		t.Fatalf("conversation turns: %v", conv)
	}

	code, body = f.do(t, jsonRequest(http.MethodPost, "/delete_chat", chatRequest{ChatID: chatID}))
	if code != http.StatusOK || body["msg"] != "Chat deleted successfully" {
		t.Fatalf("delete: %d %v", code, body)
	}
	_, body = f.do(t, httptest.NewRequest(http.MethodGet, "/get_chat_history", nil))
	if n := len(body["chat_list"].([]any)); n != 0 {
		t.Fatalf("deleted chat still listed: %v", body)
	}
	if n, _ := f.history.GetMessageCount(ctx, chatID); n != 0 {
		t.Fatalf("model history of deleted chat kept %d messages", n)
	}

	code, _ = f.do(t, jsonRequest(http.MethodPost, "/delete_chat", chatRequest{}))
	if code != http.StatusBadRequest {
		t.Fatalf("delete without id: %d", code)
	}
}

func TestDataDownload(t *testing.T) {
	f := newFixture(t, &fakeRunner{}, nil)

	resp, err := f.srv.App().Test(httptest.NewRequest(http.MethodGet, "/api/data/hotels.json", nil))
	if err != nil {
		t.Fatal(err)
	}
	var hotels []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&hotels); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(hotels) != 1 || hotels[0]["id"] != "H1" {
		t.Fatalf("got %d %v", resp.StatusCode, hotels)
	}

	code, body := f.do(t, httptest.NewRequest(http.MethodGet, "/api/data/bookings.json", nil))
	if code != http.StatusBadRequest || body["error"] != "Invalid data type" {
		t.Fatalf("bookings must not be downloadable: %d %v", code, body)
	}
}

func TestTranscribe(t *testing.T) {
	tr := &fakeTranscriber{text: "hotels in goa"}
	f := newFixture(t, &fakeRunner{}, tr)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("audio", "clip.webm")
	_, _ = part.Write([]byte("RIFF"))
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	code, body := f.do(t, req)
	if code != http.StatusOK || body["text"] != "hotels in goa" || tr.got != "RIFF" {
		t.Fatalf("got %d %v (audio %q)", code, body, tr.got)
	}

	req = httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(""))
	code, body = f.do(t, req)
	if code != http.StatusBadRequest || body["error"] != "No audio file provided" {
		t.Fatalf("missing file: %d %v", code, body)
	}
}

func TestChatName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hi", "hi"},
		{"find me   cheap flights to Delhi tomorrow", "find me cheap flights"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		if got := chatName(tt.in); got != tt.want {
			t.Errorf("chatName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
