package chat

import (
	"context"
	"testing"
	"time"

	"parley/cmd/internal/store"
	v1 "parley/shared/contracts/chat/v1"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, "file::memory:", 1)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := store.Migrate(ctx, st); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewRepository(st)
}

func single(from, to, content string) Record {
	return Record{SenderName: from, ReceiverName: to, SendType: v1.SendSingle, PayloadType: v1.PayloadText, Content: content}
}

func mass(from, group, content string) Record {
	return Record{SenderName: from, GroupID: group, SendType: v1.SendMass, PayloadType: v1.PayloadText, Content: content}
}

func mustInsert(t *testing.T, r *Repository, kind Resource, rec Record) Record {
	t.Helper()

	out, err := r.InsertRecord(context.Background(), kind, rec)
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	return out
}

func ids(recs []Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTouchUserInsertsThenRefreshes(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	clock := time.UnixMilli(1_000)
	r.SetClock(func() time.Time { return clock })

	created, err := r.TouchUser(ctx, v1.Identity{Username: "alice", Nickname: "Al"})
	if err != nil || !created {
		t.Fatalf("first TouchUser created=%v err=%v", created, err)
	}

	clock = time.UnixMilli(2_000)
	created, err = r.TouchUser(ctx, v1.Identity{Username: "alice"})
	if err != nil || created {
		t.Fatalf("second TouchUser created=%v err=%v", created, err)
	}

	u, err := r.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.LastLogin != 2_000 || u.CreatedAt != 1_000 {
		t.Fatalf("user=%+v want created_at=1000 last_login=2000", u)
	}
	if u.Nickname != "Al" {
		t.Fatalf("nickname=%q want kept Al", u.Nickname)
	}
}

func TestTouchUserRequiresUsername(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	if _, err := r.TouchUser(context.Background(), v1.Identity{}); !IsArg(err) {
		t.Fatalf("err=%v want ErrArg", err)
	}
}

func TestCatchUpReturnsDirectAndGroupRecords(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateGroup(ctx, Group{GroupID: "g1"}, []Member{{Username: "bob"}, {Username: "alice"}}); err != nil {
		t.Fatalf("CreateGroup g1: %v", err)
	}
	if _, err := r.CreateGroup(ctx, Group{GroupID: "g2"}, []Member{{Username: "carol"}}); err != nil {
		t.Fatalf("CreateGroup g2: %v", err)
	}

	m1 := mustInsert(t, r, ResourceMessage, single("alice", "bob", "hi"))
	mustInsert(t, r, ResourceMessage, single("alice", "carol", "not for bob"))
	m3 := mustInsert(t, r, ResourceMessage, mass("alice", "g1", "group hi"))
	mustInsert(t, r, ResourceMessage, mass("carol", "g2", "other group"))

	got, err := r.CatchUp(ctx, ResourceMessage, "bob", 0)
	if err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if want := []int64{m1.ID, m3.ID}; !equalIDs(ids(got), want) {
		t.Fatalf("ids=%v want=%v", ids(got), want)
	}

	cur, err := r.Cursors().Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Cursors.Get: %v", err)
	}
	if cur.LastMessageID != m3.ID {
		t.Fatalf("cursor=%d want=%d", cur.LastMessageID, m3.ID)
	}

	got, err = r.CatchUp(ctx, ResourceMessage, "bob", 0)
	if err != nil {
		t.Fatalf("second CatchUp: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("second CatchUp returned %v want none", ids(got))
	}

	m5 := mustInsert(t, r, ResourceMessage, single("carol", "bob", "later"))
	got, err = r.CatchUp(ctx, ResourceMessage, "bob", 0)
	if err != nil {
		t.Fatalf("third CatchUp: %v", err)
	}
	if want := []int64{m5.ID}; !equalIDs(ids(got), want) {
		t.Fatalf("ids=%v want=%v", ids(got), want)
	}
}

func TestCatchUpMatchesOnlyTheSendTypeAddress(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateGroup(ctx, Group{GroupID: "g1"}, []Member{{Username: "alice"}, {Username: "carol"}}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	direct := mustInsert(t, r, ResourceMessage, Record{SenderName: "alice", ReceiverName: "bob", GroupID: "g1", SendType: v1.SendSingle, Content: "private"})
	group := mustInsert(t, r, ResourceMessage, Record{SenderName: "alice", ReceiverName: "dave", GroupID: "g1", SendType: v1.SendMass, Content: "group"})

	cases := []struct {
		user string
		want []int64
	}{
		{user: "bob", want: []int64{direct.ID}},
		{user: "carol", want: []int64{group.ID}},
		{user: "dave", want: nil},
	}
	for _, tc := range cases {
		got, err := r.CatchUp(ctx, ResourceMessage, tc.user, 0)
		if err != nil {
			t.Fatalf("%s: CatchUp: %v", tc.user, err)
		}
		if !equalIDs(ids(got), tc.want) {
			t.Fatalf("%s: ids=%v want=%v", tc.user, ids(got), tc.want)
		}
	}
}

func TestCatchUpExplicitLastIDOverridesCursor(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	n1 := mustInsert(t, r, ResourceNotification, single("sys", "bob", "one"))
	n2 := mustInsert(t, r, ResourceNotification, single("sys", "bob", "two"))

	if err := r.Cursors().Advance(ctx, ResourceNotification, "bob", n2.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := r.CatchUp(ctx, ResourceNotification, "bob", n1.ID-1)
	if err != nil {
		t.Fatalf("CatchUp: %v", err)
	}
	if want := []int64{n1.ID, n2.ID}; !equalIDs(ids(got), want) {
		t.Fatalf("ids=%v want=%v", ids(got), want)
	}
	if got[0].Content != "one" || got[0].SendType != v1.SendSingle {
		t.Fatalf("decoded record=%+v", got[0])
	}
}

func TestCatchUpRejectsBadArgs(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	if _, err := r.CatchUp(context.Background(), ResourceMessage, "", 0); !IsArg(err) {
		t.Fatalf("empty username: err=%v want ErrArg", err)
	}
	if _, err := r.CatchUp(context.Background(), ResourceMessage, "bob", -1); !IsArg(err) {
		t.Fatalf("negative id: err=%v want ErrArg", err)
	}
}

func TestCursorAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()
	c := r.Cursors()

	steps := []struct {
		kind Resource
		id   int64
	}{
		{ResourceMessage, 10},
		{ResourceMessage, 4},
		{ResourceNotification, 3},
		{ResourceMessage, 12},
		{ResourceNotification, 1},
	}
	for _, s := range steps {
		if err := c.Advance(ctx, s.kind, "bob", s.id); err != nil {
			t.Fatalf("Advance(%v,%d): %v", s.kind, s.id, err)
		}
	}

	cur, err := c.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.LastMessageID != 12 || cur.LastNotificationID != 3 {
		t.Fatalf("cursor=%+v want message=12 notification=3", cur)
	}

	if err := c.Advance(ctx, ResourceMessage, "bob", 0); !IsArg(err) {
		t.Fatalf("zero id: err=%v want ErrArg", err)
	}
}

func TestCursorGetMissingIsZero(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	cur, err := r.Cursors().Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.LastMessageID != 0 || cur.LastNotificationID != 0 {
		t.Fatalf("cursor=%+v want zero", cur)
	}
}

func TestInsertAccess(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	a, err := r.InsertAccess(context.Background(), AccessRecord{ResourceID: "doc-1", Username: "bob", State: 1})
	if err != nil {
		t.Fatalf("InsertAccess: %v", err)
	}
	if a.ID <= 0 || a.AccessTime == 0 {
		t.Fatalf("access=%+v want id and time assigned", a)
	}
}
