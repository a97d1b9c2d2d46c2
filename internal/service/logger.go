package service

import (
	"io"
	"log/slog"
	"os"

	"go.uber.org/fx"
)

var loggerWriter io.Writer = os.Stdout

func logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
