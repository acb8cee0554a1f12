package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Error("Debug level should be disabled by default")
	}

	debugLogger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) failed: %v", err)
	}
	if !debugLogger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Error("Debug level should be enabled in debug mode")
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Infow("discarded", "key", "value")
	if logger.Desugar().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("Nop logger should not enable any level")
	}
}
