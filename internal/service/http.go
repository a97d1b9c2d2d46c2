package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"github.com/manpreetbhatti/codesync-relay/internal/config"
)

const httpControllerTag = `group:"http.controller"`

// Controllers register their routes on the shared router
type HttpResolvable interface {
	Resolve(*echo.Echo) error
}

func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(httpControllerTag),
	)
}

type httpServer_Params struct {
	fx.In
	Lifecycle fx.Lifecycle

	Controllers []HttpResolvable `group:"http.controller"`
	Config      config.Config
	Logger      *slog.Logger
}

func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		logger.Error(err.Error(), slog.String("method", c.Request().Method), slog.String("path", c.Request().URL.Path))
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func newRouter(params httpServer_Params) (*echo.Echo, error) {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.HTTPErrorHandler = httpErrorHandler(router, params.Logger)
	router.Use(middleware.Recover())
	router.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{params.Config.CORSOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	for _, controller := range params.Controllers {
		if err := controller.Resolve(router); err != nil {
			return nil, fmt.Errorf("resolve controller: %w", err)
		}
	}
	return router, nil
}

func httpServer(params httpServer_Params) error {
	router, err := newRouter(params)
	if err != nil {
		return err
	}

	addr := params.Config.Addr()
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server failed", "err", err)
				}
			}()
			params.Logger.Info("codesync relay listening", "addr", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return nil
}

var HttpModule = fx.Module("http", fx.Invoke(httpServer))
