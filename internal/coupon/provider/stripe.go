// Package provider checks coupons against the payment provider's mirror.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/coupon"
	"go.uber.org/zap"
)

const defaultTimeout = 3 * time.Second

type StripeConfig struct {
	SecretKey string
	// APIURL overrides the Stripe API base URL.
	APIURL  string
	Timeout time.Duration
}

// StripeChecker looks up the mirrored coupon through the Stripe API.
type StripeChecker struct {
	client  coupon.Client
	timeout time.Duration
}

func NewStripeChecker(cfg StripeConfig, log *zap.Logger) *StripeChecker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Named("coupon.stripe").Sugar(),
	}
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		backendCfg.URL = stripe.String(url)
	}

	return &StripeChecker{
		client: coupon.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: strings.TrimSpace(cfg.SecretKey),
		},
		timeout: timeout,
	}
}

func (s *StripeChecker) Name() string { return "stripe" }

// Check reports a deleted, invalid or unknown provider coupon as not valid.
// Transport failures and provider errors are returned as errors.
func (s *StripeChecker) Check(ctx context.Context, providerCouponID string) (coupondomain.ProviderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.CouponParams{}
	params.Context = ctx

	c, err := s.client.Get(providerCouponID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return coupondomain.ProviderResult{Valid: false, Detail: "missing"}, nil
		}
		return coupondomain.ProviderResult{}, err
	}
	if c.Deleted {
		return coupondomain.ProviderResult{Valid: false, Detail: "deleted"}, nil
	}
	if !c.Valid {
		return coupondomain.ProviderResult{Valid: false, Detail: "invalid"}, nil
	}
	return coupondomain.ProviderResult{Valid: true}, nil
}
