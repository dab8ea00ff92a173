package linebuilder

import "go.uber.org/fx"

var Module = fx.Module("linebuilder",
	fx.Provide(New),
)
