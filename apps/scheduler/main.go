package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/audit"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/lock"
	"github.com/fleetsutra/fastag/internal/observability"
	"github.com/fleetsutra/fastag/internal/payment"
	"github.com/fleetsutra/fastag/internal/provider"
	"github.com/fleetsutra/fastag/internal/providerfunds"
	"github.com/fleetsutra/fastag/internal/recharge"
	"github.com/fleetsutra/fastag/internal/recon"
	"github.com/fleetsutra/fastag/internal/scheduler"
	"github.com/fleetsutra/fastag/internal/tag"
	"github.com/fleetsutra/fastag/internal/txn"
	"github.com/fleetsutra/fastag/internal/wallet"
	"github.com/fleetsutra/fastag/pkg/db"
	"go.uber.org/fx"
)

// Standalone reconciliation runner. Carries the full recharge stack so a
// poller-confirmed payment can finish without the HTTP tier.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		txn.Module,
		wallet.Module,
		providerfunds.Module,
		tag.Module,
		audit.Module,
		payment.Module,
		provider.Module,
		recharge.Module,
		recon.Module,
		scheduler.Module,

		// No server module.
		fx.Invoke(scheduler.StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
