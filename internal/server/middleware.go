package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	"github.com/smallbiznis/quota/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	HeaderTenant = "X-Tenant-ID"
	HeaderCaller = "X-Caller-ID"
)

// TenantContext copies the identity resolved by the gateway into the request
// context. The engine never authenticates callers itself.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if tenantID == "" {
			AbortWithError(c, ErrTenantRequired)
			return
		}
		callerID := strings.TrimSpace(c.GetHeader(HeaderCaller))
		if callerID == "" {
			callerID = tenantID
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
		ctx = tenantctx.WithCallerID(ctx, callerID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit applies the named profile to the caller. Callers without an
// identity fall back to the client address.
func (s *Server) RateLimit(profile string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimitEnable {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, ok := tenantctx.CallerID(ctx)
		if !ok {
			key = strings.TrimSpace(c.GetHeader(HeaderCaller))
		}
		if key == "" {
			key = c.ClientIP()
		}

		decision, err := s.limiter.CheckProfile(ctx, profile, key)
		if err != nil && !errors.Is(err, failure.ErrStoreUnavailable) {
			AbortWithError(c, err)
			return
		}
		for name, value := range decision.Headers() {
			c.Header(name, value)
		}

		if decision.Allowed {
			c.Next()
			return
		}
		if decision.Degraded {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		logger.FromContext(ctx).Info("rate limit exceeded",
			zap.String("profile", profile),
			zap.String("route", normalizeRateLimitEndpoint(c)),
			zap.Int64("retry_after_seconds", decision.RetryAfterSeconds),
		)
		AbortWithError(c, ErrRateLimited)
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
