// Package logging configures structured JSON logging for the mint gateway.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the log destination. With an empty File everything goes to
// stdout; otherwise lines are written to a size-rotated file as well.
type Options struct {
	Service string
	Env     string
	File    string
	MaxSize int // megabytes per rotated file
}

// Setup installs a process-wide slog logger emitting one JSON object per line
// with service/env attributes and returns it. Secrets must never be passed as
// attributes; handlers do not redact.
func Setup(opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if file := strings.TrimSpace(opts.File); file != "" {
		maxSize := opts.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSize,
			MaxBackups: 3,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	logger := slog.New(handler)
	if service := strings.TrimSpace(opts.Service); service != "" {
		logger = logger.With(slog.String("service", service))
	}
	if env := strings.TrimSpace(opts.Env); env != "" {
		logger = logger.With(slog.String("env", env))
	}
	slog.SetDefault(logger)
	return logger
}
