package txn

import (
	"github.com/fleetsutra/fastag/internal/txn/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("txn",
	fx.Provide(repository.Provide),
)
