package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/travel-sense/server/internal/agent/model"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

// ErrLockBusy is returned when the turn lock could not be taken before the
// context ended.
var ErrLockBusy = errors.New("conversation is busy")

const lockRetryInterval = 50 * time.Millisecond

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisTurnLocker serialises turns of one conversation with SET NX PX.
// A held lock is refreshed every ttl/3 until released.
type RedisTurnLocker struct {
	rdb          redis.Cmdable
	ttl          time.Duration
	refreshEvery time.Duration
}

func NewRedisTurnLocker(rdb redis.Cmdable, ttl time.Duration) *RedisTurnLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTurnLocker{rdb: rdb, ttl: ttl, refreshEvery: ttl / 3}
}

func (l *RedisTurnLocker) lockKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:lock", conversationID)
}

// Acquire blocks until the lock is taken or ctx is done. The returned release
// func is safe to call after the lock expired.
func (l *RedisTurnLocker) Acquire(ctx context.Context, conversationID string) (func(context.Context) error, error) {
	key := l.lockKey(conversationID)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errx.New(ErrLockBusy, http.StatusConflict, ErrLockBusy.Error())
			}
			logx.Error().Err(err).Str("key", key).Msg("failed to acquire turn lock")
			return nil, errx.WrapRedis(err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errx.New(ErrLockBusy, http.StatusConflict, ErrLockBusy.Error())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(context.WithoutCancel(ctx), key, token, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logx.Error().Err(err).Str("key", key).Msg("failed to release turn lock")
			return errx.WrapRedis(err)
		}
		return nil
	}, nil
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *RedisTurnLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ok, err := l.extend(ctx, key, token)
		if err != nil {
			logx.Warn().Err(err).Str("key", key).Msg("failed to refresh turn lock")
			continue
		}
		if !ok {
			logx.Warn().Str("key", key).Msg("turn lock lost before release")
			return
		}
	}
}

func (l *RedisTurnLocker) extend(ctx context.Context, key, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.refreshEvery)
	defer cancel()
	n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ model.TurnLocker = (*RedisTurnLocker)(nil)
