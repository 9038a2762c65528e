package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fleetsutra/fastag/internal/audit"
	"github.com/fleetsutra/fastag/internal/auth"
	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"github.com/fleetsutra/fastag/internal/gateway"
	"github.com/fleetsutra/fastag/internal/lock"
	"github.com/fleetsutra/fastag/internal/migration"
	"github.com/fleetsutra/fastag/internal/observability"
	"github.com/fleetsutra/fastag/internal/payment"
	"github.com/fleetsutra/fastag/internal/provider"
	"github.com/fleetsutra/fastag/internal/providerfunds"
	"github.com/fleetsutra/fastag/internal/recharge"
	"github.com/fleetsutra/fastag/internal/recon"
	"github.com/fleetsutra/fastag/internal/scheduler"
	"github.com/fleetsutra/fastag/internal/server"
	"github.com/fleetsutra/fastag/internal/tag"
	"github.com/fleetsutra/fastag/internal/txn"
	"github.com/fleetsutra/fastag/internal/wallet"
	"github.com/fleetsutra/fastag/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		// Functional domains
		auth.Module,
		txn.Module,
		wallet.Module,
		providerfunds.Module,
		tag.Module,
		audit.Module,
		payment.Module,
		gateway.Module,
		provider.Module,
		recharge.Module,
		recon.Module,
		scheduler.Module,

		server.Module,
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
