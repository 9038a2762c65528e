package tag

import (
	"github.com/fleetsutra/fastag/internal/tag/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tag.service",
	fx.Provide(service.NewService),
)
