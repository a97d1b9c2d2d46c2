package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/manpreetbhatti/codesync-relay/internal/config"
	"github.com/manpreetbhatti/codesync-relay/internal/execute"
	"github.com/manpreetbhatti/codesync-relay/internal/identity"
	"github.com/manpreetbhatti/codesync-relay/internal/journal"
	"github.com/manpreetbhatti/codesync-relay/internal/presence"
	"github.com/manpreetbhatti/codesync-relay/internal/ratelimit"
	"github.com/manpreetbhatti/codesync-relay/internal/relay"
	"github.com/manpreetbhatti/codesync-relay/internal/ws"
)

type engine_Params struct {
	fx.In

	Config   config.Config
	Logger   *slog.Logger
	Journal  *journal.Recorder
	Presence *presence.Directory `optional:"true"`
}

func engine(params engine_Params) *relay.Engine {
	observers := []relay.Observer{params.Journal}
	if params.Presence != nil {
		observers = append(observers, params.Presence)
	}
	return relay.NewEngine(params.Logger, relay.Options{
		EnforceReadOnly: params.Config.EnforceReadOnly,
	}, observers...)
}

type hub_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Config config.Config
	Engine *relay.Engine
	Logger *slog.Logger
}

func hub(params hub_Params) *ws.Hub {
	h := ws.NewHub(params.Engine, params.Logger, ws.ClientOptions{
		MessagesPerSecond: params.Config.MessagesPerSecond,
		MessageBurst:      params.Config.MessageBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go h.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return h
}

// Upgrade limiter keyed by remote address; nil when disabled
func connectLimiter(lc fx.Lifecycle, cfg config.Config) *ratelimit.KeyedLimiters {
	if cfg.ConnectsPerMinute <= 0 {
		return nil
	}
	limiters := ratelimit.NewKeyedLimiters(float64(cfg.ConnectsPerMinute)/60, cfg.ConnectsPerMinute)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			limiters.Stop()
			return nil
		},
	})
	return limiters
}

func executor(cfg config.Config) *execute.Client {
	return execute.NewClient(cfg.PistonURL, cfg.ExecuteTimeout)
}

func verifier(cfg config.Config, logger *slog.Logger) *identity.Verifier {
	v := identity.NewVerifier(cfg.JWTSecret)
	if !v.Enabled() {
		logger.Warn("token verification disabled, display names are taken from join requests")
	}
	return v
}

var RelayModule = fx.Module("relay", fx.Provide(
	engine,
	hub,
	connectLimiter,
	executor,
	verifier,
))
