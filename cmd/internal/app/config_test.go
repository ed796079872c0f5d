package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"PARLEY_WS_ADDR", "PARLEY_ADMIN_ADDR", "PARLEY_DB_MAX_CONNS", "PARLEY_DATABASE_URL", "PARLEY_ADMIN_CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.WSAddr != "0.0.0.0:3030" {
		t.Fatalf("WSAddr: got %q want 0.0.0.0:3030", cfg.WSAddr)
	}
	if cfg.AdminAddr != "0.0.0.0:6080" {
		t.Fatalf("AdminAddr: got %q want 0.0.0.0:6080", cfg.AdminAddr)
	}
	if cfg.DBMaxConns != 20 {
		t.Fatalf("DBMaxConns: got %d want 20", cfg.DBMaxConns)
	}
	if cfg.DBAcquireTimeout != 10*time.Second {
		t.Fatalf("DBAcquireTimeout: got %v want 10s", cfg.DBAcquireTimeout)
	}
	if cfg.usesPostgres() {
		t.Fatalf("empty DATABASE_URL must select sqlite")
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("CORS origins: got %v want nil", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PARLEY_WS_ADDR", "127.0.0.1:4000")
	t.Setenv("PARLEY_DB_MAX_CONNS", "-3")
	t.Setenv("PARLEY_PRESENCE_TTL", "45s")
	t.Setenv("PARLEY_ADMIN_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PARLEY_DATABASE_URL", "postgres://u@localhost/parley")

	cfg := LoadConfig()
	if cfg.WSAddr != "127.0.0.1:4000" {
		t.Fatalf("WSAddr: got %q", cfg.WSAddr)
	}
	if cfg.DBMaxConns != 20 {
		t.Fatalf("negative DBMaxConns must fall back: got %d", cfg.DBMaxConns)
	}
	if cfg.PresenceTTL != 45*time.Second {
		t.Fatalf("PresenceTTL: got %v", cfg.PresenceTTL)
	}
	if got := strings.Join(cfg.CORSAllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("CORS origins: got %q", got)
	}
	if !cfg.usesPostgres() {
		t.Fatalf("DATABASE_URL set must select postgres")
	}
}

func TestValidateAdminConfig(t *testing.T) {
	t.Parallel()

	strong, err := bcrypt.GenerateFromPassword([]byte("pw"), minAdminBcryptCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	weak, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "open", cfg: Config{}},
		{name: "required but missing", cfg: Config{RequireAdminAuth: true}, wantErr: true},
		{name: "not bcrypt", cfg: Config{AdminUser: "ops", AdminPasswordHash: "plain"}, wantErr: true},
		{name: "empty user", cfg: Config{AdminPasswordHash: string(strong)}, wantErr: true},
		{name: "weak allowed when optional", cfg: Config{AdminUser: "ops", AdminPasswordHash: string(weak)}},
		{name: "weak rejected when required", cfg: Config{AdminUser: "ops", AdminPasswordHash: string(weak), RequireAdminAuth: true}, wantErr: true},
		{name: "strong", cfg: Config{AdminUser: "ops", AdminPasswordHash: string(strong), RequireAdminAuth: true}},
	}
	for _, tc := range cases {
		err := ValidateAdminConfig(tc.cfg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: got err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestOpenStore_SQLiteServesReadiness(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{SQLiteDSN: "file::memory:", DBMaxConns: 4, DBAcquireTimeout: time.Second}

	db, err := OpenStore(context.Background(), cfg, log, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := newAdminHandler(http.NotFoundHandler(), cfg, log, db)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: got status %d want 200", path, rr.Code)
		}
	}

	cfg.ReadinessRequireDB = true
	h = newAdminHandler(http.NotFoundHandler(), cfg, log, db)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without postgres: got %d want 503", rr.Code)
	}
}
