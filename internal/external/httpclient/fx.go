package httpclient

import (
	"github.com/smallbiznis/poolbilling/internal/config"
	"github.com/smallbiznis/poolbilling/internal/external"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("external.httpclient",
	fx.Provide(func(cfg config.Config, log *zap.Logger) external.UsageService {
		return NewUsageService(cfg.Services.UsageURL, cfg.Services.APIToken, log)
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) external.PricingService {
		return NewPricingService(cfg.Services.PricingURL, cfg.Services.APIToken, log)
	}),
	fx.Provide(func(cfg config.Config, log *zap.Logger) external.PayerService {
		return NewPayerService(cfg.Services.PayerURL, cfg.Services.APIToken, log)
	}),
)
