package chat

import (
	"context"

	"parley/cmd/internal/store"
)

const memberUpsertSuffix = `ON CONFLICT (group_id, username) DO UPDATE SET user_id = excluded.user_id, nickname = excluded.nickname`

var memberColumns = []string{"group_id", "username", "user_id", "nickname"}

// MemberDiff is the outcome of comparing a stored roster with a replacement roster.
type MemberDiff struct {
	Added   []string
	Removed []string
	Kept    []string
}

// DiffMembers compares current against next. next is first deduplicated by username, the last
// entry winning while first-seen order is kept. The current roster is indexed once so the diff
// is a single pass over next plus a sweep of what was not seen.
func DiffMembers(current, next []Member) (MemberDiff, []Member) {
	roster := make(map[string]bool, len(current))
	for _, m := range current {
		roster[m.Username] = false
	}

	next = dedupeMembers(next)

	var d MemberDiff
	for _, m := range next {
		if _, ok := roster[m.Username]; ok {
			roster[m.Username] = true
			d.Kept = append(d.Kept, m.Username)
			continue
		}
		d.Added = append(d.Added, m.Username)
	}
	for _, m := range current {
		if seen, ok := roster[m.Username]; ok && !seen {
			d.Removed = append(d.Removed, m.Username)
			// Guard against duplicate rows in current.
			roster[m.Username] = true
		}
	}
	return d, next
}

func dedupeMembers(in []Member) []Member {
	if len(in) == 0 {
		return nil
	}
	idx := make(map[string]int, len(in))
	out := make([]Member, 0, len(in))
	for _, m := range in {
		if i, ok := idx[m.Username]; ok {
			out[i] = m
			continue
		}
		idx[m.Username] = len(out)
		out = append(out, m)
	}
	return out
}

func memberRows(groupID string, members []Member) [][]any {
	rows := make([][]any, len(members))
	for i, m := range members {
		rows[i] = []any{groupID, m.Username, m.UserID, m.Nickname}
	}
	return rows
}

// CreateGroup inserts the group row and all of its members in one transaction.
// A group id that already exists fails with ErrAlreadyExists. It returns the stored roster.
func (r *Repository) CreateGroup(ctx context.Context, g Group, members []Member) ([]Member, error) {
	const op = "chat.CreateGroup"
	if g.GroupID == "" {
		return nil, argError(op, "missing groupId")
	}

	members = dedupeMembers(members)
	if g.MemberCount == 0 {
		g.MemberCount = len(members)
	}

	stmts := []store.Statement{
		store.Exec(
			`INSERT INTO chat_group (group_id, name, member_count, creator_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
			g.GroupID, g.Name, g.MemberCount, g.CreatorID, r.now().UnixMilli(),
		),
	}
	if len(members) > 0 {
		ins, err := store.BulkInsert("group_member", memberColumns, memberRows(g.GroupID, members), "")
		if err != nil {
			return nil, argError(op, err.Error())
		}
		stmts = append(stmts, ins)
	}

	if _, err := r.st.RunTransaction(ctx, stmts); err != nil {
		if IsUniqueViolation(err) {
			return nil, OpError{Op: op, Kind: ErrAlreadyExists, Msg: g.GroupID, Err: err}
		}
		return nil, storeError(op, err)
	}
	return members, nil
}

// DeleteGroup removes the members and then the group row. Deleting a missing group succeeds.
// It reports whether a group row was removed.
func (r *Repository) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	const op = "chat.DeleteGroup"
	if groupID == "" {
		return false, argError(op, "missing groupId")
	}

	res, err := r.st.RunTransaction(ctx, []store.Statement{
		store.Exec(`DELETE FROM group_member WHERE group_id = $1`, groupID),
		store.Exec(`DELETE FROM chat_group WHERE group_id = $1`, groupID),
	})
	if err != nil {
		return false, storeError(op, err)
	}
	return res[1].RowsAffected > 0, nil
}

// UpdateGroup rewrites the group row and reconciles its roster with members in one transaction:
// the union of kept and added members is upserted, the removed set deleted.
func (r *Repository) UpdateGroup(ctx context.Context, g Group, members []Member) (MemberDiff, error) {
	const op = "chat.UpdateGroup"
	if g.GroupID == "" {
		return MemberDiff{}, argError(op, "missing groupId")
	}

	var diff MemberDiff
	err := r.st.WithTx(ctx, func(tx store.Execer) error {
		res, err := tx.Execute(ctx, store.Query(`SELECT group_id FROM chat_group WHERE group_id = $1`, g.GroupID))
		if err != nil {
			return err
		}
		if len(res.Rows) == 0 {
			return OpError{Op: op, Kind: ErrNotFound, Msg: g.GroupID}
		}

		res, err = tx.Execute(ctx, store.Query(
			`SELECT group_id, username, user_id, nickname FROM group_member WHERE group_id = $1`, g.GroupID,
		))
		if err != nil {
			return err
		}
		var current []Member
		if err := store.Decode(res.Rows, &current); err != nil {
			return err
		}

		var next []Member
		diff, next = DiffMembers(current, members)
		if g.MemberCount == 0 {
			g.MemberCount = len(next)
		}

		if _, err := tx.Execute(ctx, store.Exec(
			`UPDATE chat_group SET name = $2, member_count = $3, creator_id = $4 WHERE group_id = $1`,
			g.GroupID, g.Name, g.MemberCount, g.CreatorID,
		)); err != nil {
			return err
		}

		if len(next) > 0 {
			up, err := store.BulkInsert("group_member", memberColumns, memberRows(g.GroupID, next), memberUpsertSuffix)
			if err != nil {
				return err
			}
			if _, err := tx.Execute(ctx, up); err != nil {
				return err
			}
		}

		if len(diff.Removed) > 0 {
			in, args := store.In(2, diff.Removed)
			if _, err := tx.Execute(ctx, store.Exec(
				`DELETE FROM group_member WHERE group_id = $1 AND username IN (`+in+`)`,
				append([]any{g.GroupID}, args...)...,
			)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MemberDiff{}, Wrap(op, ErrStore, err)
	}
	return diff, nil
}

// GetGroup loads one group row.
func (r *Repository) GetGroup(ctx context.Context, groupID string) (Group, error) {
	const op = "chat.GetGroup"

	res, err := r.st.Execute(ctx, store.Query(
		`SELECT group_id, name, member_count, creator_id, created_at FROM chat_group WHERE group_id = $1`, groupID,
	))
	if err != nil {
		return Group{}, storeError(op, err)
	}
	if len(res.Rows) == 0 {
		return Group{}, OpError{Op: op, Kind: ErrNotFound, Msg: groupID}
	}
	var g Group
	if err := store.Decode(res.Rows[0], &g); err != nil {
		return Group{}, storeError(op, err)
	}
	return g, nil
}

// Members lists a group's roster ordered by username.
func (r *Repository) Members(ctx context.Context, groupID string) ([]Member, error) {
	const op = "chat.Members"

	res, err := r.st.Execute(ctx, store.Query(
		`SELECT group_id, username, user_id, nickname FROM group_member WHERE group_id = $1 ORDER BY username`, groupID,
	))
	if err != nil {
		return nil, storeError(op, err)
	}
	var out []Member
	if err := store.Decode(res.Rows, &out); err != nil {
		return nil, storeError(op, err)
	}
	return out, nil
}
