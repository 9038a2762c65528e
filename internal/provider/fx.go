package provider

import (
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/provider/cyrus"
	providerdomain "github.com/fleetsutra/fastag/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provider",
	fx.Provide(NewClient),
)

func NewClient(cfg config.Config, log *zap.Logger) (providerdomain.Client, error) {
	return cyrus.New(cfg, log)
}
