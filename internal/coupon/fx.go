package coupon

import (
	"github.com/smallbiznis/quota/internal/config"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/internal/coupon/provider"
	"github.com/smallbiznis/quota/internal/coupon/repository"
	"github.com/smallbiznis/quota/internal/coupon/service"
	"github.com/smallbiznis/quota/internal/failure"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideChecker),
	fx.Provide(providePolicy),
	fx.Provide(service.New),
)

// provideChecker returns nil when no provider is configured; Validate then
// relies on local state alone.
func provideChecker(cfg config.Config, log *zap.Logger) coupondomain.ProviderChecker {
	if !cfg.Coupon.ProviderEnabled || cfg.Coupon.StripeSecretKey == "" {
		log.Info("coupon provider check disabled")
		return nil
	}
	return provider.NewStripeChecker(provider.StripeConfig{
		SecretKey: cfg.Coupon.StripeSecretKey,
		APIURL:    cfg.Coupon.StripeAPIURL,
		Timeout:   cfg.Coupon.ProviderTimeout,
	}, log)
}

func providePolicy(cfg config.Config) (service.ProviderPolicy, error) {
	policy, err := failure.ParsePolicy(cfg.Coupon.ProviderFailurePolicy, failure.PolicyFailOpen)
	if err != nil {
		return service.ProviderPolicy{}, err
	}
	return service.ProviderPolicy{OnFailure: policy}, nil
}
