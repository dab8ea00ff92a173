package jobs

import (
	"github.com/smallbiznis/poolbilling/internal/jobs/repository"
	"github.com/smallbiznis/poolbilling/internal/jobs/runner"
	"github.com/smallbiznis/poolbilling/internal/jobs/service"
	"go.uber.org/fx"
)

var Module = fx.Module("jobs.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(runner.New),
)
