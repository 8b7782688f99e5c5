package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitToJSON(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, "debug", "json")
	defer SetLevel(slog.LevelInfo)

	For("transport").Debug("frame read", "id", 0)
	if !strings.Contains(buf.String(), `"component":"transport"`) {
		t.Fatalf("json output missing component: %s", buf.String())
	}
}

func TestInitToText(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, "warn", "text")
	defer SetLevel(slog.LevelInfo)

	For("server").Info("hidden")
	For("server").Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "component=server") {
		t.Errorf("text output missing component: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"  Error  ", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		parseLevel(tt.input)
		if level.Level() != tt.want {
			t.Errorf("parseLevel(%q): got %v, want %v", tt.input, level.Level(), tt.want)
		}
	}
	SetLevel(slog.LevelInfo)
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning", "error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("verbose") {
		t.Error(`ValidLevel("verbose") = true`)
	}
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestDynamicHandlerWithAttrsKeepsParent(t *testing.T) {
	h := &dynamicHandler{attrs: []slog.Attr{slog.String("component", "c")}}
	h2 := h.WithAttrs([]slog.Attr{slog.String("conn", "x")}).(*dynamicHandler)
	if len(h2.attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(h2.attrs))
	}
	if len(h.attrs) != 1 {
		t.Fatal("WithAttrs must not modify the parent handler")
	}
	if h.WithGroup("g") != h {
		t.Error("WithGroup should return the same handler")
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	if len(c.Records()) != 3 {
		t.Fatalf("expected 3 records, got %d", len(c.Records()))
	}
	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelWarn) != 1 {
		t.Errorf("expected 1 warn, got %d", c.Count(slog.LevelWarn))
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()
	if slog.Default() != prev {
		t.Error("default logger not restored")
	}
}

func TestForConnCarriesAttributes(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	ForConn("transport", "abc123").Info("frame read")

	if !c.HasAttr("frame read", "component", "transport") {
		t.Error("record should carry component attr")
	}
	if !c.HasAttr("frame read", "conn", "abc123") {
		t.Error("record should carry conn attr")
	}
}
