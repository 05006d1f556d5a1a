package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "", want: zapcore.InfoLevel},
		{level: "WARNING", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "verbose", want: zapcore.InfoLevel},
	}

	for _, testCase := range testCases {
		t.Run(testCase.level, func(t *testing.T) {
			logger, err := NewLogger(testCase.level, "json")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !logger.Core().Enabled(testCase.want) {
				t.Fatalf("expected %s to be enabled", testCase.want)
			}
			if testCase.want > zapcore.DebugLevel && logger.Core().Enabled(testCase.want-1) {
				t.Fatalf("expected %s to be disabled", testCase.want-1)
			}
		})
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger("info", "console")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("console logger ready")
}
