package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithCORS_PreflightAllowed(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins:   []string{"https://console.parley.example"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := WithCORS(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("preflight reached the admin routes")
	}), cfg, log)

	req := httptest.NewRequest(http.MethodOptions, "/chatroom/update", nil)
	req.Header.Set("Origin", "https://console.parley.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d want=204", rr.Code)
	}
	want := map[string]string{
		"Access-Control-Allow-Origin":      "https://console.parley.example",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Allow-Methods":     "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type, Authorization",
		"Access-Control-Max-Age":           "600",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("%s=%q want=%q", k, got, v)
		}
	}
}

func TestWithCORS_Requests(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	console := []string{"https://console.parley.example", "http://127.0.0.1:*"}

	cases := []struct {
		name       string
		allowed    []string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{name: "disallowed origin", allowed: console, origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
		{name: "exact origin", allowed: console, origin: "https://console.parley.example", wantStatus: http.StatusOK, wantAllow: "https://console.parley.example"},
		{name: "wildcard port", allowed: console, origin: "http://127.0.0.1:55123", wantStatus: http.StatusOK, wantAllow: "http://127.0.0.1:55123"},
		{name: "wildcard port other host", allowed: console, origin: "http://localhost:55123", wantStatus: http.StatusForbidden},
		{name: "no origin from server caller", allowed: console, origin: "", wantStatus: http.StatusOK},
		{name: "empty allowlist passes through", allowed: nil, origin: "https://evil.example.com", wantStatus: http.StatusOK},
	}

	for _, tc := range cases {
		called := false
		h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}), Config{CORSAllowedOrigins: tc.allowed}, log)

		req := httptest.NewRequest(http.MethodGet, "/server/userInfo", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: status=%d want=%d", tc.name, rr.Code, tc.wantStatus)
		}
		if called != (tc.wantStatus == http.StatusOK) {
			t.Fatalf("%s: next called=%v", tc.name, called)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
			t.Fatalf("%s: allow-origin=%q want=%q", tc.name, got, tc.wantAllow)
		}
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff: %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options: %q", got)
	}
	if got := rr.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Fatalf("missing referrer policy: %q", got)
	}
}
