package store

import (
	"reflect"
	"strings"
	"testing"
)

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		start, n int
		want     string
	}{
		{start: 1, n: 0, want: ""},
		{start: 1, n: 1, want: "$1"},
		{start: 3, n: 3, want: "$3, $4, $5"},
	}

	for _, tc := range cases {
		if got := Placeholders(tc.start, tc.n); got != tc.want {
			t.Fatalf("Placeholders(%d,%d)=%q want=%q", tc.start, tc.n, got, tc.want)
		}
	}
}

func TestIn(t *testing.T) {
	t.Parallel()

	sql, args := In(2, []string{"a", "b"})
	if sql != "$2, $3" {
		t.Fatalf("sql=%q", sql)
	}
	if !reflect.DeepEqual(args, []any{"a", "b"}) {
		t.Fatalf("args=%v", args)
	}
}

func TestBulkInsert(t *testing.T) {
	t.Parallel()

	st, err := BulkInsert("group_member", []string{"group_id", "username"}, [][]any{
		{"g1", "alice"},
		{"g1", "bob'); DROP TABLE chat_user; --"},
	}, "ON CONFLICT (group_id, username) DO NOTHING")
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	want := "INSERT INTO group_member (group_id, username) VALUES ($1, $2), ($3, $4) ON CONFLICT (group_id, username) DO NOTHING"
	if st.SQL != want {
		t.Fatalf("sql=%q\nwant=%q", st.SQL, want)
	}
	if len(st.Args) != 4 {
		t.Fatalf("args=%d want=4", len(st.Args))
	}
	if strings.Contains(st.SQL, "DROP") {
		t.Fatalf("value leaked into SQL text: %s", st.SQL)
	}
}

func TestBulkInsertRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		table   string
		columns []string
		rows    [][]any
	}{
		{name: "bad table", table: "x; drop", columns: []string{"a"}, rows: [][]any{{1}}},
		{name: "bad column", table: "t", columns: []string{"a b"}, rows: [][]any{{1}}},
		{name: "no columns", table: "t", rows: [][]any{{1}}},
		{name: "no rows", table: "t", columns: []string{"a"}},
		{name: "ragged row", table: "t", columns: []string{"a", "b"}, rows: [][]any{{1}}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := BulkInsert(tc.table, tc.columns, tc.rows, ""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
