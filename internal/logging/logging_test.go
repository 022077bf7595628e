package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FormatsErrors(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	log.Error("subscribe failed", "error", WrapError(errors.New("boom"), "nats"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	errAttr, ok := line["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error group, got %T: %v", line["error"], line["error"])
	}
	if msg, _ := errAttr["message"].(string); msg != "nats: boom" {
		t.Errorf("message = %q, want %q", msg, "nats: boom")
	}
	stack, ok := errAttr["stack"].([]any)
	if !ok || len(stack) == 0 {
		t.Fatalf("expected stack frames in %v", errAttr)
	}
	if first, _ := stack[0].(string); !strings.Contains(first, "logging_test.go") {
		t.Errorf("expected first frame at the WrapError caller, got %q", first)
	}
}

func TestNew_PlainErrorHasNoStack(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Warn("lookup", "error", errors.New("plain"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	errAttr := line["error"].(map[string]any)
	if _, ok := errAttr["stack"]; ok {
		t.Errorf("expected no stack for a plain error, got %v", errAttr)
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below level, got %q", buf.String())
	}
}

func TestWrapError_KeepsChain(t *testing.T) {
	err := WrapError(&fs.PathError{Op: "open", Path: "cert.pem", Err: fs.ErrNotExist}, "serve")

	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("errors.Is lost the wrapped sentinel: %v", err)
	}
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) || pathErr.Path != "cert.pem" {
		t.Errorf("errors.As lost the wrapped type: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "serve: ") {
		t.Errorf("expected prefixed message, got %q", err.Error())
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError(nil, "x") != nil {
		t.Fatal("expected nil")
	}
}
