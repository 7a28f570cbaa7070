package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func setupTestLogger(output *bytes.Buffer, level string) {
	SetLoggerForTest(zerolog.New(output).With().Timestamp().Logger().Level(parseLevel(level)))
}

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("test message", "foo", 42, "bar", true)

	out := buf.String()
	if !strings.Contains(out, "test message") {
		t.Error("Expected log message not found in output")
	}
	if !strings.Contains(out, `"foo":42`) || !strings.Contains(out, `"bar":true`) {
		t.Error("Expected key-value pairs not found in output")
	}
}

func TestWarnAndErrorLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	Info("hidden")
	Warn("something odd", "code", 99)
	Error("render failed", "error", errors.New("boom"), "dangling")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info must be filtered at warn level")
	}
	if !strings.Contains(out, `"code":99`) {
		t.Error("Warn log output missing expected content")
	}
	if !strings.Contains(out, `"error":"boom"`) || !strings.Contains(out, `"dangling":null`) {
		t.Errorf("Error log output missing expected content: %s", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	SetLogLevel("info")
	Info("should be visible")
	if !strings.Contains(buf.String(), "should be visible") {
		t.Error("Expected info log after SetLogLevel not found")
	}

	buf.Reset()
	SetLogLevel("invalid")
	Info("fallback to info")
	if !strings.Contains(buf.String(), "fallback to info") {
		t.Error("invalid level should fall back to info")
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "edgessr.log")
	InitLogger(logFile, 1, 1, 1, false, "info")
	defer SetLoggerForTest(zerolog.New(os.Stdout))

	Info("to file", "k", "v")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"k":"v"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}
