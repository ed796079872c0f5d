package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve is the `parley serve` entrypoint. It returns an error instead of calling os.Exit to keep
// defers effective.
func Serve(cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := ValidateAdminConfig(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate is the `parley migrate` entrypoint: it applies the schema and exits.
func Migrate(cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := OpenStore(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	log.Info("db.migrate.done", "postgres", cfg.usesPostgres())
	return nil
}
