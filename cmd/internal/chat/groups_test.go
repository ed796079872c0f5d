package chat

import (
	"context"
	"reflect"
	"sort"
	"testing"
)

func members(names ...string) []Member {
	out := make([]Member, len(names))
	for i, n := range names {
		out[i] = Member{Username: n}
	}
	return out
}

func usernames(ms []Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Username
	}
	sort.Strings(out)
	return out
}

func TestDiffMembers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current []string
		next    []string
		want    MemberDiff
	}{
		{
			name:    "swap one",
			current: []string{"A", "B", "C"},
			next:    []string{"B", "C", "D"},
			want:    MemberDiff{Added: []string{"D"}, Removed: []string{"A"}, Kept: []string{"B", "C"}},
		},
		{
			name: "empty to some",
			next: []string{"A", "B"},
			want: MemberDiff{Added: []string{"A", "B"}},
		},
		{
			name:    "some to empty",
			current: []string{"A", "B"},
			want:    MemberDiff{Removed: []string{"A", "B"}},
		},
		{
			name:    "duplicates in next",
			current: []string{"A"},
			next:    []string{"B", "A", "B"},
			want:    MemberDiff{Added: []string{"B"}, Kept: []string{"A"}},
		},
		{
			name:    "unchanged",
			current: []string{"A", "B"},
			next:    []string{"B", "A"},
			want:    MemberDiff{Kept: []string{"B", "A"}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _ := DiffMembers(members(tc.current...), members(tc.next...))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("diff=%+v want=%+v", got, tc.want)
			}
		})
	}
}

func TestDiffMembersLastDuplicateWins(t *testing.T) {
	t.Parallel()

	_, next := DiffMembers(nil, []Member{
		{Username: "A", Nickname: "first"},
		{Username: "B"},
		{Username: "A", Nickname: "second"},
	})
	if len(next) != 2 || next[0].Username != "A" || next[0].Nickname != "second" {
		t.Fatalf("next=%+v", next)
	}
}

func TestUpdateGroupAppliesDiff(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateGroup(ctx, Group{GroupID: "g1", Name: "before"}, members("A", "B", "C")); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	next := []Member{{Username: "B", Nickname: "bee"}, {Username: "C"}, {Username: "D"}}
	diff, err := r.UpdateGroup(ctx, Group{GroupID: "g1", Name: "after"}, next)
	if err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	if !reflect.DeepEqual(diff.Added, []string{"D"}) || !reflect.DeepEqual(diff.Removed, []string{"A"}) {
		t.Fatalf("diff=%+v want added=[D] removed=[A]", diff)
	}

	got, err := r.Members(ctx, "g1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if names := usernames(got); !reflect.DeepEqual(names, []string{"B", "C", "D"}) {
		t.Fatalf("members=%v want=[B C D]", names)
	}
	if got[0].Nickname != "bee" {
		t.Fatalf("nickname=%q want upserted bee", got[0].Nickname)
	}

	g, err := r.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if g.Name != "after" || g.MemberCount != 3 {
		t.Fatalf("group=%+v want name=after member_count=3", g)
	}
}

func TestUpdateGroupMissing(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	_, err := r.UpdateGroup(context.Background(), Group{GroupID: "nope"}, members("A"))
	if !IsNotFound(err) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	if _, err := r.Members(context.Background(), "nope"); err != nil {
		t.Fatalf("Members: %v", err)
	}
}

func TestCreateGroupDuplicate(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateGroup(ctx, Group{GroupID: "g1"}, members("A")); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	_, err := r.CreateGroup(ctx, Group{GroupID: "g1"}, members("B"))
	if !IsAlreadyExists(err) {
		t.Fatalf("err=%v want ErrAlreadyExists", err)
	}

	got, err := r.Members(ctx, "g1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if names := usernames(got); !reflect.DeepEqual(names, []string{"A"}) {
		t.Fatalf("members=%v want=[A] after failed create", names)
	}
}

func TestDeleteGroupIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateGroup(ctx, Group{GroupID: "g1"}, members("A", "B")); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	existed, err := r.DeleteGroup(ctx, "g1")
	if err != nil || !existed {
		t.Fatalf("DeleteGroup existed=%v err=%v", existed, err)
	}
	existed, err = r.DeleteGroup(ctx, "g1")
	if err != nil || existed {
		t.Fatalf("second DeleteGroup existed=%v err=%v", existed, err)
	}

	ids, err := r.GroupIDsOf(ctx, "A")
	if err != nil {
		t.Fatalf("GroupIDsOf: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("groups=%v want none", ids)
	}
}
