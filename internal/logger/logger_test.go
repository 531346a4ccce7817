package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	if Init("bandsim-test", slog.LevelInfo) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionID_Context(t *testing.T) {
	ctx := context.Background()
	if sid := SessionID(ctx); sid != "" {
		t.Errorf("expected empty session id, got %q", sid)
	}

	ctx = WithSessionID(ctx, "3f2a")
	if sid := SessionID(ctx); sid != "3f2a" {
		t.Errorf("expected '3f2a', got %q", sid)
	}
}

func TestLogWithSession(t *testing.T) {
	if attrs := LogWithSession(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs without a session, got %v", attrs)
	}

	attrs := LogWithSession(WithSessionID(context.Background(), "abc"))
	if len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
	a, ok := attrs[0].(slog.Attr)
	if !ok || a.Key != "session_id" || a.Value.String() != "abc" {
		t.Errorf("unexpected attr %v", attrs[0])
	}
}
