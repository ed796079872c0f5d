package chat

import (
	"context"

	"parley/cmd/internal/store"
)

// CursorStore keeps one ack_cursor row per user. Rows are upserted and never deleted, and a
// column never moves backwards: a stale write from a second device is absorbed.
type CursorStore struct {
	st store.Store
}

func NewCursorStore(st store.Store) *CursorStore {
	return &CursorStore{st: st}
}

// Get returns the cursor for username. A user without a row reads as zero.
func (c *CursorStore) Get(ctx context.Context, username string) (Cursor, error) {
	const op = "chat.CursorStore.Get"

	res, err := c.st.Execute(ctx, store.Query(
		`SELECT username, last_message_id, last_notification_id FROM ack_cursor WHERE username = $1`, username,
	))
	if err != nil {
		return Cursor{}, storeError(op, err)
	}
	if len(res.Rows) == 0 {
		return Cursor{Username: username}, nil
	}
	var cur Cursor
	if err := store.Decode(res.Rows[0], &cur); err != nil {
		return Cursor{}, storeError(op, err)
	}
	return cur, nil
}

// Advance raises the kind column of username's cursor to id if id is larger.
func (c *CursorStore) Advance(ctx context.Context, kind Resource, username string, id int64) error {
	const op = "chat.CursorStore.Advance"
	if username == "" {
		return argError(op, "missing username")
	}
	if id <= 0 {
		return argError(op, "id must be positive")
	}
	if err := c.advance(ctx, c.st, kind, username, id); err != nil {
		return storeError(op, err)
	}
	return nil
}

func (c *CursorStore) advance(ctx context.Context, ex store.Execer, kind Resource, username string, id int64) error {
	col := kind.cursorColumn()
	_, err := ex.Execute(ctx, store.Exec(
		`INSERT INTO ack_cursor (username, `+col+`) VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET `+col+` =
		   CASE WHEN excluded.`+col+` > ack_cursor.`+col+` THEN excluded.`+col+` ELSE ack_cursor.`+col+` END`,
		username, id,
	))
	return err
}
