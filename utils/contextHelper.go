package utils

import (
	"context"

	"github.com/mmdatafocus/pos_engine/appctx"
)

var (
	ContextKeyScopeId       = appctx.ContextKeyScopeId
	ContextKeyDeviceId      = appctx.ContextKeyDeviceId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetScopeIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyScopeId)
}

func GetDeviceIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyDeviceId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetScopeIdInContext(ctx context.Context, scopeId string) context.Context {
	return appctx.Set(ctx, ContextKeyScopeId, scopeId)
}

func SetDeviceIdInContext(ctx context.Context, deviceId string) context.Context {
	return appctx.Set(ctx, ContextKeyDeviceId, deviceId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
