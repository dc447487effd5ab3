package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerZeroValueIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero Logger IsZero = false")
	}
	l.Info("nothing", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop() IsZero = true, want false")
	}
}

func TestNewWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "WARN").With(String("comp", "test"))

	l.Info("hidden")
	l.Warn("shown", Int("n", 3), Err(errors.New("boom")), Strings("lines", []string{"U1", "S41"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["comp"] != "test" || m["message"] != "shown" || m["n"] != float64(3) {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["err"] != "boom" {
		t.Fatalf("err field = %v, want boom", m["err"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"critical", LevelError},
		{"nope", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if ValidLevel("nope") || !ValidLevel("Debug") {
		t.Fatalf("ValidLevel mismatch")
	}
}

func TestServiceFileSinkAndSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	svc, l := New(Config{Level: "ERROR", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	l.Info("dropped")
	svc.SetLevel("INFO")
	if !l.Enabled(LevelInfo) {
		t.Fatalf("Enabled(info) = false after SetLevel")
	}
	l.Info("kept")
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "dropped") || !strings.Contains(s, "kept") {
		t.Fatalf("log content = %q", s)
	}
}

func TestSecretRedacts(t *testing.T) {
	cases := map[string]string{
		"":              "unset",
		"  ":            "unset",
		"123:ABC-token": "set",
		"https://discord.com/api/webhooks/1/secret": "https://discord.com/***",
	}
	for in, want := range cases {
		var buf bytes.Buffer
		NewWriter(&buf, "INFO").Info("x", Secret("v", in))
		var m map[string]any
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m["v"] != want {
			t.Fatalf("Secret(%q) = %v, want %q", in, m["v"], want)
		}
	}
}

func TestApplyReportsFileError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc, l := New(Config{Level: "INFO"})
	defer svc.Close()

	err := svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: filepath.Join(blocker, "bot.log")}})
	if err == nil {
		t.Fatalf("Apply with unusable log path = nil error")
	}
	if !l.Enabled(LevelDebug) {
		t.Fatalf("level not applied after file error")
	}
}
