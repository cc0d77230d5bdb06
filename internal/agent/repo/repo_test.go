package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/model"
	errx "github.com/travel-sense/server/internal/core/error"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	r := NewRedisConversationRepository(rdb, time.Hour, 0)

	h, err := r.LoadHistory(ctx, "c1")
	if err != nil || len(h.Messages) != 0 || h.IntentTool != "" {
		t.Fatalf("empty load: %+v %v", h, err)
	}

	call := schema.ToolCall{ID: "call_1", Function: schema.FunctionCall{Name: "search_hotels", Arguments: `{"city":"Goa"}`}}
	err = r.AddMessages(ctx, "c1",
		schema.UserMessage("hotels in Goa"),
		schema.AssistantMessage("", []schema.ToolCall{call}),
		schema.ToolMessage(`{"text":"ok"}`, "call_1"),
	)
	if err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if err := r.SaveIntent(ctx, "c1", "search_hotels"); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}

	h, err = r.LoadHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Messages) != 3 || h.IntentTool != "search_hotels" {
		t.Fatalf("unexpected history: %+v", h)
	}
	if h.Messages[1].ToolCalls[0].Function.Name != "search_hotels" || h.Messages[2].ToolCallID != "call_1" {
		t.Fatalf("tool linkage lost: %+v %+v", h.Messages[1], h.Messages[2])
	}
	if ttl := mr.TTL("conversation:c1:messages"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	if err := r.SaveIntent(ctx, "c1", ""); err != nil {
		t.Fatalf("clear intent: %v", err)
	}
	if h, _ = r.LoadHistory(ctx, "c1"); h.IntentTool != "" {
		t.Fatalf("intent not cleared: %q", h.IntentTool)
	}

	if n, _ := r.GetMessageCount(ctx, "c1"); n != 3 {
		t.Fatalf("count = %d", n)
	}
	if err := r.ClearHistory(ctx, "c1"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if n, _ := r.GetMessageCount(ctx, "c1"); n != 0 {
		t.Fatalf("count after clear = %d", n)
	}
}

func TestConversationMaxStored(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	r := NewRedisConversationRepository(rdb, 0, 3)

	for _, q := range []string{"a", "b", "c", "d", "e"} {
		if err := r.AddMessages(ctx, "c1", schema.UserMessage(q)); err != nil {
			t.Fatalf("AddMessages: %v", err)
		}
	}
	h, err := r.LoadHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Messages) != 3 || h.Messages[0].Content != "c" || h.Messages[2].Content != "e" {
		t.Fatalf("unexpected messages: %v", h.Messages)
	}
}

func TestTurnLockExclusive(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewRedisTurnLocker(rdb, time.Minute)

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "c1"); err == nil {
		t.Fatal("second acquire must wait for the holder")
	} else if errx.StatusOf(err) != 409 {
		t.Fatalf("status = %d", errx.StatusOf(err))
	}

	other, err := l.Acquire(context.Background(), "c2")
	if err != nil {
		t.Fatalf("other chat must not be blocked: %v", err)
	}
	_ = other(context.Background())

	if err := release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again(context.Background())
}

func TestTurnLockReleaseKeepsForeignToken(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisTurnLocker(rdb, time.Minute)

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// the lock expired and someone else took it
	mr.Set("conversation:c1:lock", "someone-else")

	if err := release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, _ := mr.Get("conversation:c1:lock"); v != "someone-else" {
		t.Fatalf("foreign lock removed, value = %q", v)
	}
}

// waitTTL polls until the key's ttl is at least want.
func waitTTL(t *testing.T, mr *miniredis.Miniredis, key string, want time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) < want {
		if time.Now().After(deadline) {
			t.Fatalf("ttl of %s = %v, want >= %v", key, mr.TTL(key), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTurnLockRefreshedWhileHeld(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisTurnLocker(rdb, time.Minute)
	l.refreshEvery = 10 * time.Millisecond
	const key = "conversation:c1:lock"

	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// a slow turn: well past the ttl in total
	for i := 0; i < 3; i++ {
		mr.FastForward(45 * time.Second)
		if !mr.Exists(key) {
			t.Fatalf("lock expired while held after step %d", i)
		}
		waitTTL(t, mr, key, 50*time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "c1"); errx.StatusOf(err) != 409 {
		t.Fatalf("second acquire during held turn: %v", err)
	}

	if err := release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("lock still present after release")
	}
	if err := release(context.Background()); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestTurnLockExtendKeepsForeignToken(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisTurnLocker(rdb, time.Minute)
	const key = "conversation:c1:lock"
	mr.Set(key, "someone-else")
	mr.SetTTL(key, 5*time.Second)

	ok, err := l.extend(context.Background(), key, "mine")
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ok || mr.TTL(key) != 5*time.Second {
		t.Fatalf("foreign lock extended: ok=%v ttl=%v", ok, mr.TTL(key))
	}
}

func TestRedisChatStore(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	s := NewRedisChatStore(rdb)
	clock := int64(1000)
	s.now = func() time.Time { clock++; return time.UnixMilli(clock) }

	for i, id := range []string{"a", "b", "c"} {
		err := s.InsertChat(ctx, model.ChatRecord{UserID: "u1", ChatID: id, ChatName: "New Chat", CreatedDate: int64(i), LUT: int64(i)})
		if err != nil {
			t.Fatalf("InsertChat: %v", err)
		}
	}
	if err := s.InsertChat(ctx, model.ChatRecord{UserID: "u2", ChatID: "z", LUT: 99}); err != nil {
		t.Fatalf("InsertChat: %v", err)
	}

	if err := s.RenameChat(ctx, "u1", "a", "Goa trip"); err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	if err := s.DeleteChat(ctx, "u1", "b"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}

	chats, err := s.ListChats(ctx, "u1")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 || chats[0].ChatID != "a" || chats[1].ChatID != "c" {
		t.Fatalf("unexpected order: %+v", chats)
	}
	if !chats[0].ChatInitiated || chats[0].ChatName != "Goa trip" {
		t.Fatalf("rename not applied: %+v", chats[0])
	}

	if _, err := s.GetChat(ctx, "u2", "a"); !errx.IsNotFound(err) {
		t.Fatalf("cross-user lookup must miss, got %v", err)
	}
	if err := s.RenameChat(ctx, "u1", "missing", "x"); !errx.IsNotFound(err) {
		t.Fatalf("rename of missing chat: %v", err)
	}

	for _, ts := range []int64{30, 10, 20} {
		if err := s.AppendTurn(ctx, "u1", "a", model.TurnRecord{UserQuery: "q", Timestamp: ts}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	turns, err := s.ListTurns(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 || turns[0].Timestamp != 10 || turns[2].Timestamp != 30 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if turns, _ := s.ListTurns(ctx, "u2", "a"); len(turns) != 0 {
		t.Fatalf("turns leaked across users: %+v", turns)
	}
}
