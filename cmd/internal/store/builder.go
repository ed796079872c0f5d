package store

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Placeholders renders n positional placeholders starting at $start: "$3, $4, $5".
func Placeholders(start, n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// In renders a placeholder list for values starting at $start and returns the matching args.
// It never inlines a value into SQL text.
func In[T any](start int, values []T) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return Placeholders(start, len(values)), args
}

// BulkInsert builds one multi-row INSERT for table(columns) with rows bound as parameters.
// suffix is appended verbatim (for example an ON CONFLICT clause) and must not contain values.
func BulkInsert(table string, columns []string, rows [][]any, suffix string) (Statement, error) {
	if !identRe.MatchString(table) {
		return Statement{}, fmt.Errorf("store: invalid table identifier %q", table)
	}
	if len(columns) == 0 {
		return Statement{}, errors.New("store: bulk insert without columns")
	}
	for _, c := range columns {
		if !identRe.MatchString(c) {
			return Statement{}, fmt.Errorf("store: invalid column identifier %q", c)
		}
	}
	if len(rows) == 0 {
		return Statement{}, errors.New("store: bulk insert without rows")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		if len(r) != len(columns) {
			return Statement{}, fmt.Errorf("store: row %d has %d values, want %d", i, len(r), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(Placeholders(len(args)+1, len(columns)))
		b.WriteByte(')')
		args = append(args, r...)
	}

	if s := strings.TrimSpace(suffix); s != "" {
		b.WriteByte(' ')
		b.WriteString(s)
	}
	return Exec(b.String(), args...), nil
}
