package recharge

import (
	"context"

	"github.com/fleetsutra/fastag/internal/payment/intake"
	"github.com/fleetsutra/fastag/internal/recharge/service"
	"github.com/fleetsutra/fastag/internal/recharge/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("recharge",
	fx.Provide(
		service.NewService,
		NewDispatcher,
		webhook.NewService,
		func(d *Dispatcher) intake.Enqueuer { return d },
	),
	fx.Invoke(startDispatcher),
)

func startDispatcher(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Stop()
			return nil
		},
	})
}
