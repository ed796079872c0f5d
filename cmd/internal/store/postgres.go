package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresAdapter is a Store backed by a pgx pool.
//
// The adapter does NOT own the pool: the caller closes it, and Close here is a no-op.
type PostgresAdapter struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresAdapter wraps pool. Pool sizing (MaxConns) is the caller's policy.
func NewPostgresAdapter(pool *pgxpool.Pool, opts ...Option) (*PostgresAdapter, error) {
	if pool == nil {
		return nil, errors.New("store: nil pool")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresAdapter{pool: pool, opts: o}, nil
}

func (a *PostgresAdapter) Dialect() Dialect { return DialectPostgres }

// Close is a no-op because the pool is owned by the caller.
func (a *PostgresAdapter) Close() error { return nil }

// Ping checks that a connection can be acquired within the acquire timeout.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	conn, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

func (a *PostgresAdapter) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if a == nil || a.pool == nil {
		return nil, ErrClosed
	}
	actx, cancel := context.WithTimeout(ctx, a.opts.acquireTimeout)
	defer cancel()

	conn, err := a.pool.Acquire(actx)
	if err != nil {
		return nil, acquireErr(ctx, err)
	}
	return conn, nil
}

// Execute runs one statement on its own pooled connection.
func (a *PostgresAdapter) Execute(ctx context.Context, st Statement) (Result, error) {
	conn, err := a.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Release()

	return pgExecute(ctx, conn, st)
}

func (a *PostgresAdapter) RunTransaction(ctx context.Context, stmts []Statement) ([]Result, error) {
	return runStatements(ctx, a, stmts)
}

// WithTx begins a transaction on a dedicated connection. Rollback is deferred and becomes a
// no-op after a successful Commit.
func (a *PostgresAdapter) WithTx(ctx context.Context, fn func(tx Execer) error) error {
	conn, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", classifyPG(err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Execute(ctx context.Context, st Statement) (Result, error) {
	return pgExecute(ctx, t.tx, st)
}

// pgQuerier is satisfied by both *pgxpool.Conn and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgExecute(ctx context.Context, q pgQuerier, st Statement) (Result, error) {
	if st.kind == kindExec {
		tag, err := q.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return Result{}, classifyPG(err)
		}
		return Result{RowsAffected: tag.RowsAffected()}, nil
	}

	rows, err := q.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return Result{}, classifyPG(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return Result{}, classifyPG(err)
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

func classifyPG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s: %w", ErrUniqueViolation, pgErr.ConstraintName, err)
	}
	return err
}
