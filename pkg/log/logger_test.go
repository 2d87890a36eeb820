// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(format OutputFormat) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New("test")
	logger.SetWriter(&buf)
	logger.SetLevel(DEBUG)
	logger.SetColorize(false)
	logger.SetFormat(format)
	return logger, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newTestLogger(FormatText)

	logger.Info("stream %s enabled", "acc")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("expected prefix 'test:', got: %s", output)
	}
	if !strings.Contains(output, "stream acc enabled") {
		t.Errorf("expected message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger(FormatText)
	logger.SetLevel(INFO)

	logger.Debug("debug message")
	logger.Trace("trace message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG and TRACE to be filtered, got: %s", buf.String())
	}

	for _, fn := range []func(string, ...interface{}){logger.Info, logger.Warn, logger.Error} {
		buf.Reset()
		fn("passes")
		if !strings.Contains(buf.String(), "passes") {
			t.Errorf("expected message to pass at INFO, got: %s", buf.String())
		}
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)

	logger.Info("json test")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Logger != "test" || entry.Message != "json test" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := newTestLogger(FormatText)

	logger.WithFields(Fields{"period_us": 10000, "stream": "gyro"}).Info("rate")

	// fields are sorted by key
	if !strings.Contains(buf.String(), "{period_us=10000, stream=gyro}") {
		t.Errorf("expected sorted fields, got: %s", buf.String())
	}
}

func TestLoggerWithFieldsJSON(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)

	logger.WithFields(Fields{"domain": "fusion", "intreq": "0x20"}).Info("irq")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.Fields["domain"] != "fusion" || entry.Fields["intreq"] != "0x20" {
		t.Errorf("unexpected fields %v", entry.Fields)
	}
}

func TestLoggerWithError(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)

	logger.WithError(errors.New("bus nack")).Error("transfer failed")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.Fields["error"] != "bus nack" {
		t.Errorf("expected error field, got: %v", entry.Fields)
	}
}

func TestLoggerWithNilError(t *testing.T) {
	logger, buf := newTestLogger(FormatText)
	logger.WithError(nil).Warn("odd")
	if !strings.Contains(buf.String(), "error=<nil>") {
		t.Errorf("expected nil error marker, got: %s", buf.String())
	}
}

func TestLoggerWithPrefix(t *testing.T) {
	logger, buf := newTestLogger(FormatText)

	child := logger.WithPrefix("irq")
	child.Info("child message")

	if !strings.Contains(buf.String(), "irq:") {
		t.Errorf("expected prefix 'irq:', got: %s", buf.String())
	}
}

func TestWithPrefixSharesSink(t *testing.T) {
	logger, buf := newTestLogger(FormatText)
	child := logger.WithPrefix("transport")

	logger.SetLevel(WARN)
	child.Info("dropped")
	child.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "transport: kept") {
		t.Errorf("child did not follow the shared level: %s", out)
	}
}

func TestLoggerFrame(t *testing.T) {
	logger, buf := newTestLogger(FormatText)

	logger.Frame("read", 0x0a, []byte{0x00, 0x00, 0x02, 0x00})
	if buf.Len() != 0 {
		t.Fatalf("frames should be filtered above TRACE, got: %s", buf.String())
	}

	logger.SetLevel(TRACE)
	logger.Frame("read", 0x0a, []byte{0x00, 0x00, 0x02, 0x00})
	out := buf.String()
	if !strings.Contains(out, "read reg=0x0a") || !strings.Contains(out, "data=00000200") {
		t.Errorf("unexpected frame output: %s", out)
	}
}

func TestHexJSON(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)
	logger.WithField("frame", Hex{0xde, 0xad}).Info("dump")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.Fields["frame"] != "dead" {
		t.Errorf("expected hex string, got %v", entry.Fields["frame"])
	}
}

func TestLoggerCaller(t *testing.T) {
	logger, buf := newTestLogger(FormatText)
	logger.SetCaller(true)

	logger.Info("caller test")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info 'logger_test.go:', got: %s", buf.String())
	}
}

func TestLoggerCallerJSON(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)
	logger.SetCaller(true)

	logger.WithField("k", 1).Info("caller test")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if !strings.Contains(entry.Caller, "logger_test.go:") {
		t.Errorf("expected caller to contain 'logger_test.go:', got: %s", entry.Caller)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"TRACE", TRACE},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warn", WARN},
		{"WARNING", WARN},
		{" error ", ERROR},
		{"invalid", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if result := ParseLevel(tt.input); result != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{TRACE, "TRACE"},
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if result := tt.level.String(); result != tt.expected {
			t.Errorf("LogLevel(%d).String() = %q, expected %q", tt.level, result, tt.expected)
		}
	}
}

func TestEntryChaining(t *testing.T) {
	logger, buf := newTestLogger(FormatJSON)

	logger.
		WithField("a", 1).
		WithField("b", 2).
		WithFields(Fields{"c": 3}).
		Info("chained")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(entry.Fields) != 3 {
		t.Errorf("expected 3 fields, got %d: %v", len(entry.Fields), entry.Fields)
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("SENSORHUB_LOG_LEVEL", "trace")
	t.Setenv("SENSORHUB_LOG_FORMAT", "json")
	t.Setenv("SENSORHUB_LOG_CALLER", "1")

	logger := New("env")
	ConfigureFromEnv(logger)

	if logger.GetLevel() != TRACE {
		t.Errorf("expected TRACE, got %v", logger.GetLevel())
	}
	if logger.out.format != FormatJSON || !logger.out.caller {
		t.Errorf("env format/caller not applied")
	}
}

func TestGetLogger(t *testing.T) {
	logger := GetLogger("activation")
	if logger == nil {
		t.Fatal("expected logger, got nil")
	}
	if logger.prefix != "activation" {
		t.Errorf("expected prefix 'activation', got %q", logger.prefix)
	}
}

func BenchmarkLoggerText(b *testing.B) {
	var buf bytes.Buffer
	logger := New("bench")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		logger.Info("event %d", i)
	}
}

func BenchmarkLoggerFiltered(b *testing.B) {
	var buf bytes.Buffer
	logger := New("bench")
	logger.SetWriter(&buf)
	logger.SetLevel(ERROR)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Frame("read", 0x30, []byte{1, 2, 3})
	}
}
