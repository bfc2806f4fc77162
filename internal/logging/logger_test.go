package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "explicit config", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithEndpoint(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	epLogger := logger.WithEndpoint(5, DirLabel("in"))
	epLogger.Info("endpoint message")

	output := buf.String()
	if !strings.Contains(output, "address=5") {
		t.Errorf("expected address=5 in output, got: %s", output)
	}
	if !strings.Contains(output, "dir=in") {
		t.Errorf("expected dir=in in output, got: %s", output)
	}

	// Derived loggers compose: a request logger built from an endpoint
	// logger carries both sets of fields.
	buf.Reset()
	reqLogger := epLogger.WithRequest(123, "DO_REQUEST")
	reqLogger.Debug("submitted")

	output = buf.String()
	if !strings.Contains(output, "address=5") {
		t.Errorf("expected address=5 in derived output, got: %s", output)
	}
	if !strings.Contains(output, "context=123") {
		t.Errorf("expected context=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=DO_REQUEST") {
		t.Errorf("expected op=DO_REQUEST in output, got: %s", output)
	}
}

func TestLoggerWithXfer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	xferLogger := logger.WithXfer(77)
	xferLogger.Debug("submitted to bus")

	output := buf.String()
	if !strings.Contains(output, "xfer=77") {
		t.Errorf("expected xfer=77 in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("expected error message, got: %s", output)
	}
}

// DirLabel is a tiny stand-in for uapi.Dir in these tests; logging stays
// free of a dependency on the uapi package, so WithEndpoint accepts any
// value whose %v is the direction label callers want logged.
type DirLabel string
