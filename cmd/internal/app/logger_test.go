package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Format(t *testing.T) {
	t.Parallel()

	var jsonBuf, textBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json").Info("sample", "k", "v")
	newLogger(&textBuf, "info", "TEXT").Info("sample", "k", "v")

	if !strings.HasPrefix(jsonBuf.String(), "{") {
		t.Fatalf("json output: got %q", jsonBuf.String())
	}
	if !strings.Contains(textBuf.String(), "msg=sample") || !strings.Contains(textBuf.String(), "k=v") {
		t.Fatalf("text output: got %q", textBuf.String())
	}

	var quiet bytes.Buffer
	newLogger(&quiet, "error", "json").Info("dropped")
	if quiet.Len() != 0 {
		t.Fatalf("info logged at error level: %q", quiet.String())
	}
}
