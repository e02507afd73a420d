package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevelFromEnv(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := levelFromEnv(in); got != want {
			t.Errorf("levelFromEnv(%q) = %s, want %s", in, got, want)
		}
	}
}
