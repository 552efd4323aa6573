package logutil

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, false)
	logger.Debug("hidden")
	logger.Warn("shown", zap.Int("groups", 3))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message written at default level:\n%s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, `"groups": 3`) {
		t.Errorf("warn message missing:\n%s", out)
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, true)
	logger.Debug("evaluated", zap.String("policy", "linear-interpolation"))
	_ = logger.Sync()

	if !strings.Contains(buf.String(), "evaluated") {
		t.Errorf("debug message missing in verbose mode:\n%s", buf.String())
	}
}
