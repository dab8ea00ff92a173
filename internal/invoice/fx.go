package invoice

import (
	"github.com/smallbiznis/poolbilling/internal/invoice/repository"
	"github.com/smallbiznis/poolbilling/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
