package db

import (
	"context"

	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_rooms (
	activity_id TEXT PRIMARY KEY,
	created_at  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_members (
	activity_id  TEXT NOT NULL REFERENCES chat_rooms (activity_id) ON DELETE CASCADE,
	user_id      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	joined_at    BIGINT NOT NULL,
	PRIMARY KEY (activity_id, user_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	activity_id TEXT NOT NULL,
	key         TEXT NOT NULL,
	body        JSONB NOT NULL,
	PRIMARY KEY (activity_id, key)
);
`

// EnsureSchema creates the chat tables when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "ensure schema")
	}
	return nil
}
