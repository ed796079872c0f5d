// Package app wires the parley server runtime: config, logging, storage, the realtime listener
// and the admin listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/internal/adminapi"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	"parley/cmd/internal/realtime"
	"parley/cmd/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the parley server runtime: it owns both listeners and the resources behind the engine.
type App struct {
	cfg Config
	log Logger

	db    dbHandle
	rdb   *redis.Client
	nc    *nats.Conn
	reg   *presence.Registry
	ws    *realtime.WSGateway
	admin http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	db, err := OpenStore(ctx, cfg, log, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, db: db}

	var mirror presence.Mirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.rdb = rdb
		mirror = presence.NewRedisMirror(rdb, cfg.PresenceTTL)
		log.Info("presence.mirror.enabled", "addr", cfg.RedisAddr, "ttl", cfg.PresenceTTL)
	}

	var events routing.EventPublisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("parley"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.nc = nc
		events = routing.NewNATSPublisher(log, nc, cfg.NATSSubjectPrefix)
		log.Info("events.nats.enabled", "url", nc.ConnectedUrlRedacted(), "prefix", cfg.NATSSubjectPrefix)
	}

	hub := realtime.NewHub(log)
	engine := routing.NewEngine(log, chat.NewRepository(db), hub, mirror, events)
	a.reg = engine.Registry
	a.ws = realtime.NewWSGateway(log, hub, engine, realtime.GatewayConfigFromEnv())

	gin.SetMode(gin.ReleaseMode)
	creds := adminapi.Credentials{}
	if cfg.AdminPasswordHash != "" {
		creds = adminapi.Credentials{User: cfg.AdminUser, PasswordHash: cfg.AdminPasswordHash}
	}
	router := adminapi.NewRouter(log, adminapi.NewHandler(log, engine.Sync, engine.CatchUp, engine.Registry), creds)
	a.admin = newAdminHandler(router, cfg, log, a.db)

	return a, nil
}

// Run serves both listeners and blocks until ctx is cancelled or either server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	wsMux := http.NewServeMux()
	registerWS(wsMux, a.log, a.cfg, a.db, a.ws)

	wsSrv := a.newServer(a.cfg.WSAddr, WithRequestLogging(wsMux, a.log))
	// WebSocket sessions outlive any request deadline.
	wsSrv.ReadTimeout = 0
	wsSrv.WriteTimeout = 0

	adminSrv := a.newServer(a.cfg.AdminAddr, a.admin)

	base := runtimeBaseURL(a.cfg.WSAddr)
	a.log.Info("server.start",
		"ws_addr", a.cfg.WSAddr,
		"ws_url", wsBaseURL(base)+"/ws",
		"admin_addr", a.cfg.AdminAddr,
		"admin_url", runtimeBaseURL(a.cfg.AdminAddr),
		"postgres", a.cfg.usesPostgres(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{wsSrv, adminSrv} {
		srv := srv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("server.fail", "addr", srv.Addr, "err", err)
				return err
			}
			return nil
		})
	}

	if a.rdb != nil {
		// Renew mirrored keys well inside their TTL while users stay connected.
		g.Go(func() error {
			a.reg.KeepMirrored(gctx, mirrorRefreshInterval(a.cfg.PresenceTTL))
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return errors.Join(wsSrv.Shutdown(shutdownCtx), adminSrv.Shutdown(shutdownCtx))
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// mirrorRefreshInterval renews at a third of the TTL so one missed tick does not expire a key.
func mirrorRefreshInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return ttl / 3
}

func (a *App) newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

// close releases side channels first, then the store.
func (a *App) close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("nats.drain.fail", "err", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
	}
	if a.db.Store != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL swaps an http(s) scheme for ws(s). A bare host:port gets ws://.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
