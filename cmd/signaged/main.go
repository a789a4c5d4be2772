package main

import (
	"context"
	"log/slog"
	"os"

	"signage/config"
	"signage/internal/delivery"
	"signage/internal/delivery/http"
	"signage/internal/delivery/http/router/handler"
	"signage/internal/delivery/middleware"
	"signage/internal/infra/backend"
	logs "signage/internal/infra/log"
	"signage/internal/infra/mediacache"
	"signage/internal/infra/persistence/sqlite"
	"signage/internal/infra/qrcode"
	"signage/internal/infra/realtime"
	"signage/internal/usecase"
	"signage/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	PlayerUC   usecase.PlayerUsecase
	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectUsecase(),
		injectDelivery(),
		injectMiddleware(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		sqlite.New,
	)
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			sqlite.NewSettingsRepository,
			mediacache.NewManager,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			backend.NewClient,
			realtime.NewClient,
			qrcode.NewQRCodeService,
		),
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewPlayerService,
		),
	)
}

func injectMiddleware() fx.Option {
	return fx.Options(
		fx.Provide(
			middleware.NewRequestIDMiddleware,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewPlayerHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				http.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	params.Append(fx.Hook{
		OnStart: params.PlayerUC.Start,
		OnStop:  params.PlayerUC.Stop,
	})

	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
