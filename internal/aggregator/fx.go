package aggregator

import "go.uber.org/fx"

var Module = fx.Module("aggregator",
	fx.Provide(New),
)
