package main

import (
	"go.uber.org/fx"

	"github.com/manpreetbhatti/codesync-relay/internal/api"
	"github.com/manpreetbhatti/codesync-relay/internal/service"
)

func main() {
	fx.New(
		fx.Provide(
			service.AsHttpController(api.New),
		),

		service.ConfigModule,
		service.LoggerModule,
		service.StorageModule,
		service.RelayModule,
		service.HttpModule,
	).Run()
}
