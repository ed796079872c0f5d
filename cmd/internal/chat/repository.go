package chat

import (
	"context"
	"errors"
	"time"

	"parley/cmd/internal/store"
	v1 "parley/shared/contracts/chat/v1"
)

const recordColumns = `id, sender_name, receiver_name, group_id, send_type, payload_type, content, send_time`

// Repository reads and writes the chat model through a store.Store.
type Repository struct {
	st      store.Store
	cursors *CursorStore
	now     func() time.Time
}

// NewRepository constructs a Repository. The caller owns st.
func NewRepository(st store.Store) *Repository {
	return &Repository{
		st:      st,
		cursors: NewCursorStore(st),
		now:     time.Now,
	}
}

// Cursors returns the ack cursor store sharing this repository's backend.
func (r *Repository) Cursors() *CursorStore { return r.cursors }

// SetClock overrides the wall clock used for server-assigned timestamps.
func (r *Repository) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// TouchUser inserts the user on first sight and otherwise refreshes last_login and profile fields.
// It reports whether a new row was created.
func (r *Repository) TouchUser(ctx context.Context, id v1.Identity) (bool, error) {
	const op = "chat.TouchUser"
	if id.Username == "" {
		return false, argError(op, "missing username")
	}

	now := r.now().UnixMilli()
	created := false
	err := r.st.WithTx(ctx, func(tx store.Execer) error {
		res, err := tx.Execute(ctx, store.Query(
			`SELECT username FROM chat_user WHERE username = $1`, id.Username,
		))
		if err != nil {
			return err
		}

		if len(res.Rows) == 0 {
			created = true
			_, err = tx.Execute(ctx, store.Exec(
				`INSERT INTO chat_user (username, user_id, nickname, avatar, created_at, last_login)
				 VALUES ($1, $2, $3, $4, $5, $5)`,
				id.Username, id.UserID, id.Nickname, id.Avatar, now,
			))
			return err
		}

		_, err = tx.Execute(ctx, store.Exec(
			`UPDATE chat_user
			 SET last_login = $2,
			     user_id = COALESCE(NULLIF($3, ''), user_id),
			     nickname = COALESCE(NULLIF($4, ''), nickname),
			     avatar = COALESCE(NULLIF($5, ''), avatar)
			 WHERE username = $1`,
			id.Username, now, id.UserID, id.Nickname, id.Avatar,
		))
		return err
	})
	if err != nil {
		return false, storeError(op, err)
	}
	return created, nil
}

// GetUser loads one user row.
func (r *Repository) GetUser(ctx context.Context, username string) (User, error) {
	const op = "chat.GetUser"

	res, err := r.st.Execute(ctx, store.Query(
		`SELECT username, user_id, nickname, avatar, created_at, last_login FROM chat_user WHERE username = $1`,
		username,
	))
	if err != nil {
		return User{}, storeError(op, err)
	}
	if len(res.Rows) == 0 {
		return User{}, OpError{Op: op, Kind: ErrNotFound, Msg: username}
	}
	var u User
	if err := store.Decode(res.Rows[0], &u); err != nil {
		return User{}, storeError(op, err)
	}
	return u, nil
}

// GroupIDsOf lists the groups username currently belongs to.
func (r *Repository) GroupIDsOf(ctx context.Context, username string) ([]string, error) {
	const op = "chat.GroupIDsOf"

	res, err := r.st.Execute(ctx, store.Query(
		`SELECT group_id FROM group_member WHERE username = $1 ORDER BY group_id`, username,
	))
	if err != nil {
		return nil, storeError(op, err)
	}
	out := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if s, ok := row["group_id"].(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// IsMember reports whether username belongs to groupID.
func (r *Repository) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	const op = "chat.IsMember"

	res, err := r.st.Execute(ctx, store.Query(
		`SELECT 1 AS ok FROM group_member WHERE group_id = $1 AND username = $2`, groupID, username,
	))
	if err != nil {
		return false, storeError(op, err)
	}
	return len(res.Rows) > 0, nil
}

// InsertRecord persists a message or notification with a server-assigned send time and
// returns it with its store-assigned id.
func (r *Repository) InsertRecord(ctx context.Context, kind Resource, rec Record) (Record, error) {
	const op = "chat.InsertRecord"

	rec.SendTime = r.now().UnixMilli()
	res, err := r.st.Execute(ctx, store.InsertReturningID(
		`INSERT INTO `+kind.table()+` (sender_name, receiver_name, group_id, send_type, payload_type, content, send_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.SenderName, rec.ReceiverName, rec.GroupID, int(rec.SendType), int(rec.PayloadType), rec.Content, rec.SendTime,
	))
	if err != nil {
		return Record{}, storeError(op, err)
	}
	rec.ID = res.LastInsertID
	return rec, nil
}

// InsertAccess persists an access record with a server-assigned access time.
func (r *Repository) InsertAccess(ctx context.Context, a AccessRecord) (AccessRecord, error) {
	const op = "chat.InsertAccess"

	a.AccessTime = r.now().UnixMilli()
	res, err := r.st.Execute(ctx, store.InsertReturningID(
		`INSERT INTO access_record (resource_id, user_id, username, state, access_time) VALUES ($1, $2, $3, $4, $5)`,
		a.ResourceID, a.UserID, a.Username, a.State, a.AccessTime,
	))
	if err != nil {
		return AccessRecord{}, storeError(op, err)
	}
	a.ID = res.LastInsertID
	return a, nil
}

// CatchUp returns the records addressed to username, directly or through any of its groups,
// with id above lastID, or above the stored cursor when lastID is 0. Rows come back in id
// order. A non-empty result advances the cursor to the highest id returned, in the same
// transaction as the read.
func (r *Repository) CatchUp(ctx context.Context, kind Resource, username string, lastID int64) ([]Record, error) {
	const op = "chat.CatchUp"
	if username == "" {
		return nil, argError(op, "missing username")
	}
	if lastID < 0 {
		return nil, argError(op, "negative lastId")
	}

	var q store.Statement
	if lastID > 0 {
		q = store.Query(
			`SELECT `+recordColumns+` FROM `+kind.table()+`
			 WHERE id > $2
			   AND (
			        (send_type = 0 AND receiver_name = $1)
			     OR (send_type = 1 AND group_id IN (SELECT group_id FROM group_member WHERE username = $1)))
			 ORDER BY id`,
			username, lastID,
		)
	} else {
		q = store.Query(
			`SELECT `+recordColumns+` FROM `+kind.table()+`
			 WHERE id > COALESCE((SELECT `+kind.cursorColumn()+` FROM ack_cursor WHERE username = $1), 0)
			   AND (
			        (send_type = 0 AND receiver_name = $1)
			     OR (send_type = 1 AND group_id IN (SELECT group_id FROM group_member WHERE username = $1)))
			 ORDER BY id`,
			username,
		)
	}

	var out []Record
	err := r.st.WithTx(ctx, func(tx store.Execer) error {
		res, err := tx.Execute(ctx, q)
		if err != nil {
			return err
		}
		if len(res.Rows) == 0 {
			return nil
		}
		if err := store.Decode(res.Rows, &out); err != nil {
			return err
		}
		return r.cursors.advance(ctx, tx, kind, username, out[len(out)-1].ID)
	})
	if err != nil {
		return nil, storeError(op, err)
	}
	return out, nil
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool { return errors.Is(err, store.ErrUniqueViolation) }
