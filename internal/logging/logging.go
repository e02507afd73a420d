package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger = zap.SugaredLogger

// New builds a production logger whose level comes from LOG_LEVEL.
func New() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(os.Getenv("LOG_LEVEL")))
	l, err := cfg.Build()
	if err != nil {
		l, _ = zap.NewProduction()
	}
	return l.Sugar()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return zap.NewNop().Sugar()
}

func levelFromEnv(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}
