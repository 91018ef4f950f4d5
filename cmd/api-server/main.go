package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	orderflow "github.com/quanghm/orderflow/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := orderflow.LoadConfig()
		if err != nil {
			return err
		}
		return orderflow.Run(ctx, lg, m, cfg)
	})
}
