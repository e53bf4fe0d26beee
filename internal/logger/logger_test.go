package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := Level(in); got != want {
			t.Errorf("Level(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestInitWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn", false)
	defer zap.ReplaceGlobals(zap.NewNop())

	zap.S().Infof("hidden %d", 1)
	zap.S().Warnf("shown %d", 2)
	Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "shown 2") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestInitWriterColor(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "info", true)
	defer zap.ReplaceGlobals(zap.NewNop())

	zap.S().Info("colored")
	Sync()

	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected ANSI level color: %q", buf.String())
	}
}

func TestInitFileNoColorWhenNotTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	InitFile(f, "info")
	defer zap.ReplaceGlobals(zap.NewNop())

	zap.S().Info("plain entry")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "plain entry") {
		t.Errorf("entry missing: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("escape codes written to a regular file: %q", out)
	}
}
