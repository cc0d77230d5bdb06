package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/travel-sense/server/internal/agent/model"
	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

var chatSchema = []string{`
CREATE TABLE IF NOT EXISTS chatbot_user_chats (
	user_id        TEXT    NOT NULL,
	chat_id        TEXT    NOT NULL,
	chat_name      TEXT    NOT NULL DEFAULT '',
	created_date   BIGINT  NOT NULL,
	lut            BIGINT  NOT NULL,
	is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
	chat_initiated BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_id, chat_id)
)`, `
CREATE TABLE IF NOT EXISTS chatbot_user_conversations (
	user_id   TEXT   NOT NULL,
	chat_id   TEXT   NOT NULL,
	turn_ts   BIGINT NOT NULL,
	turn      JSONB  NOT NULL,
	PRIMARY KEY (user_id, chat_id, turn_ts)
)`,
}

// pgExecutor is the subset of pgxpool.Pool the store needs.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresChatStore keeps chats and turns in two tables keyed by user id.
type PostgresChatStore struct {
	db  pgExecutor
	now func() time.Time
}

func NewPostgresChatStore(pool *pgxpool.Pool) *PostgresChatStore {
	return &PostgresChatStore{db: pool, now: time.Now}
}

// EnsureSchema creates the chat tables when missing.
func (s *PostgresChatStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range chatSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			logx.Error().Err(err).Msg("failed to create chat tables")
			return errx.WrapPostgres(err)
		}
	}
	return nil
}

func (s *PostgresChatStore) InsertChat(ctx context.Context, chat model.ChatRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chatbot_user_chats (user_id, chat_id, chat_name, created_date, lut, is_deleted, chat_initiated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			chat_name = EXCLUDED.chat_name,
			lut = EXCLUDED.lut,
			is_deleted = EXCLUDED.is_deleted,
			chat_initiated = EXCLUDED.chat_initiated`,
		chat.UserID, chat.ChatID, chat.ChatName, chat.CreatedDate, chat.LUT, chat.IsDeleted, chat.ChatInitiated)
	if err != nil {
		logx.Error().Err(err).Str("chat_id", chat.ChatID).Msg("failed to insert chat")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (s *PostgresChatStore) GetChat(ctx context.Context, userID, chatID string) (*model.ChatRecord, error) {
	var c model.ChatRecord
	err := s.db.QueryRow(ctx, `
		SELECT user_id, chat_id, chat_name, created_date, lut, is_deleted, chat_initiated
		FROM chatbot_user_chats WHERE user_id = $1 AND chat_id = $2`, userID, chatID).
		Scan(&c.UserID, &c.ChatID, &c.ChatName, &c.CreatedDate, &c.LUT, &c.IsDeleted, &c.ChatInitiated)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return &c, nil
}

func (s *PostgresChatStore) ListChats(ctx context.Context, userID string) ([]model.ChatRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, chat_id, chat_name, created_date, lut, is_deleted, chat_initiated
		FROM chatbot_user_chats
		WHERE user_id = $1 AND NOT is_deleted
		ORDER BY lut DESC, chat_id`, userID)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to list chats")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	chats := []model.ChatRecord{}
	for rows.Next() {
		var c model.ChatRecord
		if err := rows.Scan(&c.UserID, &c.ChatID, &c.ChatName, &c.CreatedDate, &c.LUT, &c.IsDeleted, &c.ChatInitiated); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		chats = append(chats, c)
	}
	return chats, errx.WrapPostgres(rows.Err())
}

func (s *PostgresChatStore) RenameChat(ctx context.Context, userID, chatID, name string) error {
	return s.exec1(ctx, `
		UPDATE chatbot_user_chats SET chat_name = $3, chat_initiated = TRUE, lut = $4
		WHERE user_id = $1 AND chat_id = $2`, userID, chatID, name, s.now().UnixMilli())
}

func (s *PostgresChatStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.exec1(ctx, `
		UPDATE chatbot_user_chats SET is_deleted = TRUE, lut = $3
		WHERE user_id = $1 AND chat_id = $2`, userID, chatID, s.now().UnixMilli())
}

// exec1 runs an update that must touch exactly one chat row.
func (s *PostgresChatStore) exec1(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		logx.Error().Err(err).Msg("failed to update chat")
		return errx.WrapPostgres(err)
	}
	if tag.RowsAffected() == 0 {
		return errx.New(pgx.ErrNoRows, http.StatusNotFound, errx.NotFoundMessage)
	}
	return nil
}

func (s *PostgresChatStore) AppendTurn(ctx context.Context, userID, chatID string, turn model.TurnRecord) error {
	b, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO chatbot_user_conversations (user_id, chat_id, turn_ts, turn)
		VALUES ($1, $2, $3, $4::jsonb)`, userID, chatID, turn.Timestamp, string(b))
	if err != nil {
		logx.Error().Err(err).Str("chat_id", chatID).Msg("failed to append turn")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (s *PostgresChatStore) ListTurns(ctx context.Context, userID, chatID string) ([]model.TurnRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT turn FROM chatbot_user_conversations
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY turn_ts ASC`, userID, chatID)
	if err != nil {
		logx.Error().Err(err).Str("chat_id", chatID).Msg("failed to list turns")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	turns := []model.TurnRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		var t model.TurnRecord
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, errx.WrapPostgres(rows.Err())
}

var _ model.ChatStore = (*PostgresChatStore)(nil)
