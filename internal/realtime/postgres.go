package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwise1/meetup_api/internal/chat"
	"github.com/bwise1/meetup_api/internal/db"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/lucsky/cuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Channel is the Postgres notification channel for tree changes. Payloads
// are "room:<activityID>" or "messages:<activityID>".
const Channel = "chat_tree"

const (
	kindRoom     = "room"
	kindMessages = "messages"
)

// Postgres is a chat.Tree over the chat_rooms, chat_members and
// chat_messages tables. Listeners are fed by one LISTEN connection started
// with Run.
type Postgres struct {
	db       *db.DB
	log      *zap.Logger
	rooms    *hub[*model.ChatRoom]
	messages *hub[chat.RawMessages]
}

var _ chat.Tree = (*Postgres)(nil)

func NewPostgres(database *db.DB, log *zap.Logger) *Postgres {
	t := &Postgres{db: database, log: log}
	t.rooms = newHub(log, t.Room)
	t.messages = newHub(log, t.Messages)
	return t
}

// Run dispatches change notifications to listeners until ctx is done.
func (t *Postgres) Run(ctx context.Context) {
	t.db.Listen(ctx, Channel, t.dispatch, func() {
		t.rooms.notifyAll()
		t.messages.notifyAll()
	})
}

func (t *Postgres) dispatch(payload string) {
	kind, id, ok := strings.Cut(payload, ":")
	if !ok {
		t.log.Warn("malformed tree notification", zap.String("payload", payload))
		return
	}
	switch kind {
	case kindRoom:
		t.rooms.notify(id)
	case kindMessages:
		t.messages.notify(id)
	}
}

func notify(ctx context.Context, tx pgx.Tx, kind, activityID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, kind+":"+activityID)
	return err
}

func (t *Postgres) Room(ctx context.Context, activityID string) (*model.ChatRoom, error) {
	room := model.ChatRoom{ActivityID: activityID, Members: map[string]model.ChatMember{}}
	err := t.db.Pool().QueryRow(ctx,
		`SELECT created_at FROM chat_rooms WHERE activity_id = $1`, activityID).Scan(&room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select chat room")
	}

	rows, err := t.db.Pool().Query(ctx,
		`SELECT user_id, display_name, joined_at FROM chat_members WHERE activity_id = $1`, activityID)
	if err != nil {
		return nil, errors.Wrap(err, "select chat members")
	}
	defer rows.Close()
	for rows.Next() {
		var m model.ChatMember
		if err := rows.Scan(&m.UserID, &m.DisplayName, &m.JoinedAt); err != nil {
			return nil, errors.Wrap(err, "scan chat member")
		}
		room.Members[m.UserID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "select chat members")
	}
	return &room, nil
}

func (t *Postgres) CreateRoom(ctx context.Context, room model.ChatRoom, welcome model.ChatMessage) (bool, error) {
	body, err := chat.EncodeMessage(welcome)
	if err != nil {
		return false, err
	}

	created := false
	err = t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO chat_rooms (activity_id, created_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			room.ActivityID, room.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert chat room")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		for _, m := range room.Members {
			if err := insertMember(ctx, tx, room.ActivityID, m); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (activity_id, key, body) VALUES ($1, $2, $3)`,
			room.ActivityID, cuid.New(), body); err != nil {
			return errors.Wrap(err, "insert welcome message")
		}
		if err := notify(ctx, tx, kindRoom, room.ActivityID); err != nil {
			return err
		}
		return notify(ctx, tx, kindMessages, room.ActivityID)
	})
	return created, err
}

func insertMember(ctx context.Context, tx pgx.Tx, activityID string, m model.ChatMember) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chat_members (activity_id, user_id, display_name, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (activity_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		activityID, m.UserID, m.DisplayName, m.JoinedAt)
	return errors.Wrap(err, "upsert chat member")
}

func (t *Postgres) Member(ctx context.Context, activityID, userID string) (*model.ChatMember, error) {
	m := model.ChatMember{UserID: userID}
	err := t.db.Pool().QueryRow(ctx,
		`SELECT display_name, joined_at FROM chat_members WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID).Scan(&m.DisplayName, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select chat member")
	}
	return &m, nil
}

func (t *Postgres) PutMember(ctx context.Context, activityID string, member model.ChatMember) error {
	return t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_rooms (activity_id, created_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			activityID, member.JoinedAt); err != nil {
			return errors.Wrap(err, "insert chat room")
		}
		if err := insertMember(ctx, tx, activityID, member); err != nil {
			return err
		}
		return notify(ctx, tx, kindRoom, activityID)
	})
}

func (t *Postgres) RemoveMember(ctx context.Context, activityID, userID string) error {
	return t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_members WHERE activity_id = $1 AND user_id = $2`, activityID, userID); err != nil {
			return errors.Wrap(err, "delete chat member")
		}
		return notify(ctx, tx, kindRoom, activityID)
	})
}

func (t *Postgres) PushMessage(ctx context.Context, activityID string, msg model.ChatMessage) (string, error) {
	body, err := chat.EncodeMessage(msg)
	if err != nil {
		return "", err
	}
	key := cuid.New()
	err = t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (activity_id, key, body) VALUES ($1, $2, $3)`,
			activityID, key, body); err != nil {
			return errors.Wrap(err, "insert chat message")
		}
		return notify(ctx, tx, kindMessages, activityID)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (t *Postgres) Messages(ctx context.Context, activityID string) (chat.RawMessages, error) {
	rows, err := t.db.Pool().Query(ctx,
		`SELECT key, body FROM chat_messages WHERE activity_id = $1 ORDER BY key`, activityID)
	if err != nil {
		return nil, errors.Wrap(err, "select chat messages")
	}
	defer rows.Close()

	raw := chat.RawMessages{}
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, errors.Wrap(err, "scan chat message")
		}
		raw[key] = json.RawMessage(body)
	}
	return raw, errors.Wrap(rows.Err(), "select chat messages")
}

func (t *Postgres) RemoveMessages(ctx context.Context, activityID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_messages WHERE activity_id = $1 AND key = ANY($2)`, activityID, keys); err != nil {
			return errors.Wrap(err, "delete chat messages")
		}
		return notify(ctx, tx, kindMessages, activityID)
	})
}

func (t *Postgres) WatchRoom(activityID string, fn func(*model.ChatRoom)) (func(), error) {
	return t.rooms.watch(activityID, fn)
}

func (t *Postgres) WatchMessages(activityID string, fn func(chat.RawMessages)) (func(), error) {
	return t.messages.watch(activityID, fn)
}

func (t *Postgres) Purge(ctx context.Context, activityID string) error {
	return t.db.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE activity_id = $1`, activityID); err != nil {
			return errors.Wrap(err, "delete chat messages")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_rooms WHERE activity_id = $1`, activityID); err != nil {
			return errors.Wrap(err, "delete chat room")
		}
		if err := notify(ctx, tx, kindRoom, activityID); err != nil {
			return err
		}
		return notify(ctx, tx, kindMessages, activityID)
	})
}

func (t *Postgres) RoomIDs(ctx context.Context) ([]string, error) {
	rows, err := t.db.Pool().Query(ctx,
		`SELECT activity_id FROM chat_rooms UNION SELECT DISTINCT activity_id FROM chat_messages`)
	if err != nil {
		return nil, errors.Wrap(err, "select chat rooms")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, errors.Wrap(err, "collect chat rooms")
}
