package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
	Setup("info", "console")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"Warn", zerolog.WarnLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestSetupSetsGlobalLevel(t *testing.T) {
	Setup("error", "console")
	defer Setup("info", "console")

	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Errorf("expected global level error, got %v", got)
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Info("sentence done", "sentence", 3, "steps", 12, "corpus", "X-a-fini")

	var ev map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if ev["message"] != "sentence done" {
		t.Errorf("unexpected message %v", ev["message"])
	}
	if ev["corpus"] != "X-a-fini" {
		t.Errorf("unexpected corpus field %v", ev["corpus"])
	}
	if ev["steps"] != float64(12) {
		t.Errorf("unexpected steps field %v", ev["steps"])
	}
}

func TestErrorValuesAreRendered(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Error("run failed", "error", errors.New("predictor unavailable"))

	if !strings.Contains(buf.String(), "predictor unavailable") {
		t.Errorf("expected error text in output, got %q", buf.String())
	}
}

func TestWithAddsContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json").With("mode", "forced")

	l.Info("step")

	if !strings.Contains(buf.String(), `"mode":"forced"`) {
		t.Errorf("expected child context in output, got %q", buf.String())
	}
}

func TestLoggerWithOddArgs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Info("odd args", "key1", "value1", "orphan_key")

	if strings.Contains(buf.String(), "orphan_key") {
		t.Errorf("orphan key should be dropped, got %q", buf.String())
	}
}

func TestAddFieldsWithNonStringKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Info("test non-string key", 123, "value")

	if !strings.Contains(buf.String(), `"123":"value"`) {
		t.Errorf("expected stringified key, got %q", buf.String())
	}
}

func TestLoggerMethodsExist(t *testing.T) {
	Log.Info("test info message", "key", "value")
	Log.Debug("test debug message", "key", "value")
	Log.Warn("test warn message", "key", "value")
	Log.Error("test error message", "key", "value")
}

func TestDebugEnabled(t *testing.T) {
	defer Setup("info", "console")

	Setup("debug", "json")
	if !Log.DebugEnabled() {
		t.Error("expected debug enabled at debug level")
	}
	Setup("warn", "json")
	if Log.DebugEnabled() {
		t.Error("expected debug disabled at warn level")
	}
}
