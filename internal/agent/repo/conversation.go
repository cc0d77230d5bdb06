package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/model"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

type RedisConversationRepository struct {
	rdb       redis.Cmdable
	ttl       time.Duration
	maxStored int
}

// NewRedisConversationRepository stores each conversation as a Redis list of
// JSON messages next to a plain key for the sticky intent. maxStored caps the
// list length; zero keeps everything.
func NewRedisConversationRepository(rdb redis.Cmdable, ttl time.Duration, maxStored int) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, ttl: ttl, maxStored: maxStored}
}

func (r *RedisConversationRepository) conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

func (r *RedisConversationRepository) intentKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:intent", conversationID)
}

func (r *RedisConversationRepository) AddMessages(ctx context.Context, conversationID string, messages ...*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]any, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("chat_id", conversationID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		rows = append(rows, b)
	}
	key := r.conversationKey(conversationID)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, rows...)
		if r.maxStored > 0 {
			pipe.LTrim(ctx, key, int64(-r.maxStored), -1)
		}
		// extend TTL on touch
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push messages to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	key := r.conversationKey(conversationID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("chat_id", conversationID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}

	intent, err := r.rdb.Get(ctx, r.intentKey(conversationID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("chat_id", conversationID).Msg("failed to load intent from redis")
		return nil, errx.WrapRedis(err)
	}

	return &model.ConversationHistory{ConversationID: conversationID, Messages: msgs, IntentTool: intent}, nil
}

func (r *RedisConversationRepository) SaveIntent(ctx context.Context, conversationID string, tool string) error {
	key := r.intentKey(conversationID)
	var err error
	if tool == "" {
		err = r.rdb.Del(ctx, key).Err()
	} else {
		err = r.rdb.Set(ctx, key, tool, r.ttl).Err()
	}
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to store intent in redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) ClearHistory(ctx context.Context, conversationID string) error {
	if err := r.rdb.Del(ctx, r.conversationKey(conversationID), r.intentKey(conversationID)).Err(); err != nil {
		logx.Error().Err(err).Str("chat_id", conversationID).Msg("failed to delete conversation history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) GetMessageCount(ctx context.Context, conversationID string) (int, error) {
	key := r.conversationKey(conversationID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to get message count from redis")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.ConversationRepository = (*RedisConversationRepository)(nil)
