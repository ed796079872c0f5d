// Package store is the transactional adapter between the routing engine and the relational backend.
//
// Two backends are supported: PostgreSQL through a pgx pool, and SQLite through database/sql
// (modernc.org/sqlite) for local development and tests. Both speak the same statement dialect:
// positional $N placeholders, INSERT ... RETURNING id and ON CONFLICT upserts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dialect names the SQL backend behind a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const defaultAcquireTimeout = 10 * time.Second

var (
	// ErrUniqueViolation is returned when a statement violates a unique or primary key constraint.
	ErrUniqueViolation = errors.New("store: unique violation")
	// ErrAcquireTimeout is returned when no pooled connection became available in time.
	ErrAcquireTimeout = errors.New("store: connection acquire timeout")
	// ErrClosed is returned by a nil or closed adapter.
	ErrClosed = errors.New("store: closed")
)

// Row is one result row keyed by lower-case column name.
type Row = map[string]any

type stmtKind uint8

const (
	kindExec stmtKind = iota
	kindQuery
	kindInsertID
)

// Statement is one parameterized SQL statement plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any

	kind stmtKind
}

// Exec builds a statement whose result is the affected row count.
func Exec(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args, kind: kindExec}
}

// Query builds a statement whose result is a row set.
func Query(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args, kind: kindQuery}
}

// InsertReturningID builds an INSERT whose generated "id" column is reported as Result.LastInsertID.
func InsertReturningID(sql string, args ...any) Statement {
	return Statement{SQL: sql + " RETURNING id", Args: args, kind: kindInsertID}
}

// Result is the outcome of one statement.
type Result struct {
	Rows         []Row
	RowsAffected int64
	LastInsertID int64
}

// Execer runs single statements. Both a Store and an open transaction satisfy it.
type Execer interface {
	Execute(ctx context.Context, st Statement) (Result, error)
}

// Store is a relational backend with transactional multi-statement execution.
//
// Each call acquires its own connection from a bounded pool. Acquisition blocks while the pool
// is exhausted and fails with ErrAcquireTimeout once the configured timeout elapses.
type Store interface {
	Execer

	// RunTransaction executes stmts in order inside one transaction. The first failing
	// statement aborts the transaction, later statements are not executed and no partial
	// results are returned.
	RunTransaction(ctx context.Context, stmts []Statement) ([]Result, error)

	// WithTx runs fn inside one transaction and commits if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Execer) error) error

	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Option configures an adapter.
type Option func(*options) error

type options struct {
	acquireTimeout time.Duration
}

// WithAcquireTimeout bounds how long a caller waits for a pooled connection.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("store: acquire timeout must be positive")
		}
		o.acquireTimeout = d
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{acquireTimeout: defaultAcquireTimeout}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}

// runStatements is the shared RunTransaction body for every adapter.
func runStatements(ctx context.Context, s Store, stmts []Statement) ([]Result, error) {
	var out []Result
	err := s.WithTx(ctx, func(tx Execer) error {
		out = make([]Result, 0, len(stmts))
		for i, st := range stmts {
			res, err := tx.Execute(ctx, st)
			if err != nil {
				return fmt.Errorf("statement %d: %w", i, err)
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// acquireErr maps a context deadline hit during pool acquisition to ErrAcquireTimeout.
// A cancellation of the caller's own context is passed through unchanged.
func acquireErr(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %w", ErrAcquireTimeout, err)
	}
	return err
}

func lastInsertID(rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, errors.New("store: insert returned no id")
	}
	return AsInt64(rows[0]["id"])
}

// AsInt64 converts a driver-native integer value to int64.
func AsInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("store: unexpected integer type %T", v)
	}
}
