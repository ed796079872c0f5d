package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLAdapter is a Store backed by database/sql and the pure-Go SQLite driver.
// It owns the *sql.DB and closes it on Close.
type SQLAdapter struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens dsn with the "sqlite" driver. An in-memory database is pinned to a single
// connection so every statement sees the same data; callers then queue on that connection.
func OpenSQLite(ctx context.Context, dsn string, maxConns int, opts ...Option) (*SQLAdapter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "file::memory:"
	}
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") || maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	// In-memory databases vanish with their last connection.
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	a, err := NewSQLAdapter(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewSQLAdapter wraps an already opened SQLite *sql.DB.
func NewSQLAdapter(db *sql.DB, opts ...Option) (*SQLAdapter, error) {
	if db == nil {
		return nil, errors.New("store: nil db")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &SQLAdapter{db: db, opts: o}, nil
}

func (a *SQLAdapter) Dialect() Dialect { return DialectSQLite }

func (a *SQLAdapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *SQLAdapter) Ping(ctx context.Context) error {
	conn, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return conn.PingContext(ctx)
}

func (a *SQLAdapter) acquire(ctx context.Context) (*sql.Conn, error) {
	if a == nil || a.db == nil {
		return nil, ErrClosed
	}
	actx, cancel := context.WithTimeout(ctx, a.opts.acquireTimeout)
	defer cancel()

	conn, err := a.db.Conn(actx)
	if err != nil {
		return nil, acquireErr(ctx, err)
	}
	return conn, nil
}

func (a *SQLAdapter) Execute(ctx context.Context, st Statement) (Result, error) {
	conn, err := a.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = conn.Close() }()

	return sqlExecute(ctx, conn, st)
}

func (a *SQLAdapter) RunTransaction(ctx context.Context, stmts []Statement) ([]Result, error) {
	return runStatements(ctx, a, stmts)
}

func (a *SQLAdapter) WithTx(ctx context.Context, fn func(tx Execer) error) error {
	conn, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", classifySQLite(err))
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Execute(ctx context.Context, st Statement) (Result, error) {
	return sqlExecute(ctx, t.tx, st)
}

// sqlQuerier is satisfied by both *sql.Conn and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlExecute(ctx context.Context, q sqlQuerier, st Statement) (Result, error) {
	if st.kind == kindExec {
		r, err := q.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return Result{}, classifySQLite(err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return Result{}, err
		}
		return Result{RowsAffected: n}, nil
	}

	rows, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return Result{}, classifySQLite(err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return Result{}, classifySQLite(err)
	}

	res := Result{Rows: out, RowsAffected: int64(len(out))}
	if st.kind == kindInsertID {
		id, err := lastInsertID(out)
		if err != nil {
			return Result{}, err
		}
		res.LastInsertID = id
	}
	return res, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[strings.ToLower(c)] = string(b)
				continue
			}
			row[strings.ToLower(c)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch code := se.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"):
			// Primary result code only, when extended codes are off.
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
	}
	return err
}
