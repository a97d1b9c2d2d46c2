package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/manpreetbhatti/codesync-relay/internal/config"
	"github.com/manpreetbhatti/codesync-relay/internal/db"
	"github.com/manpreetbhatti/codesync-relay/internal/journal"
	"github.com/manpreetbhatti/codesync-relay/internal/presence"
	"github.com/manpreetbhatti/codesync-relay/internal/retention"
)

var ConfigModule = fx.Module("config", fx.Provide(
	config.Load,
))

type database_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Config config.Config
	Logger *slog.Logger
}

func database(params database_Params) (*db.Database, error) {
	database, err := db.New(params.Config.DBPath)
	if err != nil {
		return nil, err
	}
	params.Logger.Info("journal database opened", "path", params.Config.DBPath)

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return database.Close()
		},
	})
	return database, nil
}

type recorder_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Database *db.Database
	Logger   *slog.Logger
}

func recorder(params recorder_Params) *journal.Recorder {
	rec := journal.New(params.Database, params.Logger, journal.DefaultBufferSize)
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			rec.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			rec.Stop()
			return nil
		},
	})
	return rec
}

type directory_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Config config.Config
	Logger *slog.Logger
}

// Returns nil when REDIS_URL is unset
func directory(params directory_Params) (*presence.Directory, error) {
	if params.Config.RedisURL == "" {
		params.Logger.Info("presence directory disabled")
		return nil, nil
	}

	dir, err := presence.NewDirectory(params.Config.RedisURL, params.Config.PresenceTTL, params.Logger)
	if err != nil {
		return nil, err
	}
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			dir.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			dir.Stop()
			return nil
		},
	})
	return dir, nil
}

type pruner_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Config   config.Config
	Database *db.Database
	Logger   *slog.Logger
}

func pruner(params pruner_Params) {
	p := retention.New(params.Database, retention.Config{
		Interval: params.Config.RetentionInterval,
		MaxAge:   params.Config.RetentionMaxAge,
	}, params.Logger)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			p.Stop()
			return nil
		},
	})
}

var StorageModule = fx.Module("storage",
	fx.Provide(
		database,
		recorder,
		directory,
	),
	fx.Invoke(pruner),
)
