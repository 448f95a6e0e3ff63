package context

import (
	"context"

	"github.com/smallbiznis/quota/pkg/tenantctx"
)

type requestIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func TenantIDFromContext(ctx context.Context) string {
	id, _ := tenantctx.TenantID(ctx)
	return id
}

func CallerIDFromContext(ctx context.Context) string {
	id, _ := tenantctx.CallerID(ctx)
	return id
}
