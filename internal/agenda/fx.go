package agenda

import (
	"github.com/smallbiznis/poolbilling/internal/agenda/repository"
	"github.com/smallbiznis/poolbilling/internal/agenda/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agenda.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
