package regie

import (
	"github.com/smallbiznis/poolbilling/internal/regie/repository"
	"github.com/smallbiznis/poolbilling/internal/regie/service"
	"go.uber.org/fx"
)

var Module = fx.Module("regie.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.ProvideService),
	fx.Provide(service.ProvideCounterService),
)
