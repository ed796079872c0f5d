package app

import (
	"context"
	"net/http"
	"time"

	"parley/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is the readiness view of the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func registerHealth(mux *http.ServeMux, log Logger, cfg Config, db Pinger) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !cfg.usesPostgres() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := db.Ping(ctx)
			cancel()
			if err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})
}

func registerWS(mux *http.ServeMux, log Logger, cfg Config, db Pinger, ws *realtime.WSGateway) {
	registerHealth(mux, log, cfg, db)
	mux.Handle("/ws", ws)
}

// newAdminHandler puts health, readiness and metrics in front of the admin routes.
func newAdminHandler(routes http.Handler, cfg Config, log Logger, db Pinger) http.Handler {
	mux := http.NewServeMux()
	registerHealth(mux, log, cfg, db)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	// The gin engine logs its own routes.
	return WithSecurityHeaders(WithCORS(mux, cfg, log))
}
