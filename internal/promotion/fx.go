package promotion

import "go.uber.org/fx"

var Module = fx.Module("promotion", fx.Provide(New))
