package recon

import "go.uber.org/fx"

var Module = fx.Module("recon",
	fx.Provide(
		NewStatusPoller,
		NewCSVPoller,
		NewSweeper,
	),
)
