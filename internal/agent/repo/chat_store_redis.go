package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/model"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

// RedisChatStore keeps chat rows in one hash per user and turns in one list
// per chat. Keys are always derived from the user id.
type RedisChatStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisChatStore(rdb redis.Cmdable) *RedisChatStore {
	return &RedisChatStore{rdb: rdb, now: time.Now}
}

func (s *RedisChatStore) chatsKey(userID string) string {
	return fmt.Sprintf("user:%s:chats", userID)
}

func (s *RedisChatStore) turnsKey(userID, chatID string) string {
	return fmt.Sprintf("user:%s:chat:%s:turns", userID, chatID)
}

func (s *RedisChatStore) InsertChat(ctx context.Context, chat model.ChatRecord) error {
	b, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.chatsKey(chat.UserID), chat.ChatID, b).Err(); err != nil {
		logx.Error().Err(err).Str("chat_id", chat.ChatID).Msg("failed to insert chat")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *RedisChatStore) GetChat(ctx context.Context, userID, chatID string) (*model.ChatRecord, error) {
	raw, err := s.rdb.HGet(ctx, s.chatsKey(userID), chatID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errx.New(err, http.StatusNotFound, errx.NotFoundMessage)
		}
		logx.Error().Err(err).Str("chat_id", chatID).Msg("failed to load chat")
		return nil, errx.WrapRedis(err)
	}
	var chat model.ChatRecord
	if err := json.Unmarshal([]byte(raw), &chat); err != nil {
		return nil, fmt.Errorf("unmarshal chat: %w", err)
	}
	return &chat, nil
}

func (s *RedisChatStore) ListChats(ctx context.Context, userID string) ([]model.ChatRecord, error) {
	rows, err := s.rdb.HGetAll(ctx, s.chatsKey(userID)).Result()
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to list chats")
		return nil, errx.WrapRedis(err)
	}
	chats := make([]model.ChatRecord, 0, len(rows))
	for id, raw := range rows {
		var chat model.ChatRecord
		if err := json.Unmarshal([]byte(raw), &chat); err != nil {
			logx.Warn().Err(err).Str("chat_id", id).Msg("skipping malformed chat row")
			continue
		}
		if chat.IsDeleted {
			continue
		}
		chats = append(chats, chat)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].LUT != chats[j].LUT {
			return chats[i].LUT > chats[j].LUT
		}
		return chats[i].ChatID < chats[j].ChatID
	})
	return chats, nil
}

func (s *RedisChatStore) RenameChat(ctx context.Context, userID, chatID, name string) error {
	return s.update(ctx, userID, chatID, func(c *model.ChatRecord) {
		c.ChatName = name
		c.ChatInitiated = true
	})
}

func (s *RedisChatStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.update(ctx, userID, chatID, func(c *model.ChatRecord) {
		c.IsDeleted = true
	})
}

// update rewrites one chat row and bumps its LUT.
func (s *RedisChatStore) update(ctx context.Context, userID, chatID string, fn func(*model.ChatRecord)) error {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return err
	}
	fn(chat)
	chat.LUT = s.now().UnixMilli()
	return s.InsertChat(ctx, *chat)
}

func (s *RedisChatStore) AppendTurn(ctx context.Context, userID, chatID string, turn model.TurnRecord) error {
	b, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.turnsKey(userID, chatID), b).Err(); err != nil {
		logx.Error().Err(err).Str("chat_id", chatID).Msg("failed to append turn")
		return errx.WrapRedis(err)
	}
	return nil
}

func (s *RedisChatStore) ListTurns(ctx context.Context, userID, chatID string) ([]model.TurnRecord, error) {
	rows, err := s.rdb.LRange(ctx, s.turnsKey(userID, chatID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("chat_id", chatID).Msg("failed to list turns")
		return nil, errx.WrapRedis(err)
	}
	turns := make([]model.TurnRecord, 0, len(rows))
	for i, raw := range rows {
		var t model.TurnRecord
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Timestamp < turns[j].Timestamp })
	return turns, nil
}

var _ model.ChatStore = (*RedisChatStore)(nil)
