package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a configured level name to a zap level. Unknown names fall
// back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogger creates a structured logger. format is "json" or "console"; when
// filePath is set, entries are also appended to that file.
func NewLogger(level, format, filePath string) (*zap.Logger, error) {
	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if format == "console" {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := []string{"stdout"}
	if filePath != "" {
		outputPaths = append(outputPaths, filePath)
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(ParseLevel(level)),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "component",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"service": "voltwatch"},
	}

	return config.Build()
}
