package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug disabled at default level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestL_AddsRequestAndSession(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithSessionID(ctx, "sess_abc")

	L(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if line["request_id"] != "req-456" {
		t.Errorf("expected request_id, got %v", line["request_id"])
	}
	if line["session_id"] != "sess_abc" {
		t.Errorf("expected session_id, got %v", line["session_id"])
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected default logger")
	}
}

func TestMaskMobile(t *testing.T) {
	if got := MaskMobile("9876543210"); got != "******3210" {
		t.Errorf("unexpected mask %q", got)
	}
	if got := MaskMobile("123"); got != "***" {
		t.Errorf("unexpected short mask %q", got)
	}
	if got := MaskMobile(""); got != "" {
		t.Errorf("unexpected empty mask %q", got)
	}
}
