package app

import (
	"context"
	"fmt"
	"time"

	"parley/cmd/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// dbHandle is the opened store plus whatever must be released with it.
type dbHandle struct {
	store.Store
	pool *pgxpool.Pool
}

// Close closes the adapter and then the pool it borrowed.
func (h dbHandle) Close() error {
	err := h.Store.Close()
	if h.pool != nil {
		h.pool.Close()
	}
	return err
}

// OpenStore opens Postgres when DatabaseURL is set and SQLite otherwise. SQLite is always
// migrated since it is usually in-memory; Postgres only when migrate is true.
func OpenStore(ctx context.Context, cfg Config, log Logger, migrate bool) (dbHandle, error) {
	opts := []store.Option{store.WithAcquireTimeout(cfg.DBAcquireTimeout)}

	if !cfg.usesPostgres() {
		st, err := store.OpenSQLite(ctx, cfg.SQLiteDSN, int(cfg.DBMaxConns), opts...)
		if err != nil {
			return dbHandle{}, fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.Migrate(ctx, st); err != nil {
			_ = st.Close()
			return dbHandle{}, fmt.Errorf("migrate sqlite: %w", err)
		}
		log.Info("db.enabled.sqlite", "dsn", cfg.SQLiteDSN)
		return dbHandle{Store: st}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return dbHandle{}, fmt.Errorf("open postgres: %w", err)
	}

	// The adapter borrows the pool; dbHandle owns it.
	st, err := store.NewPostgresAdapter(pool, opts...)
	if err != nil {
		pool.Close()
		return dbHandle{}, err
	}
	h := dbHandle{Store: st, pool: pool}

	if migrate {
		if err := store.Migrate(ctx, st); err != nil {
			_ = h.Close()
			return dbHandle{}, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("db.migrated", "dialect", "postgres")
	}
	log.Info("db.enabled.postgres", "max_conns", cfg.DBMaxConns)
	return h, nil
}
