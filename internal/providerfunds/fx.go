package providerfunds

import (
	"github.com/fleetsutra/fastag/internal/providerfunds/service"
	"go.uber.org/fx"
)

var Module = fx.Module("providerfunds.service",
	fx.Provide(service.NewService),
)
