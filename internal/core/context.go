package core

import "context"

type contextKey string

const ctxKeyRequest contextKey = "request_info"

// RequestInfo describes the caller of a service operation for logging.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// ContextWithRequestInfo attaches caller details to ctx.
func ContextWithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKeyRequest, info)
}

// RequestInfoFromContext returns the caller details attached to ctx.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(ctxKeyRequest).(RequestInfo)
	return info
}

// GetIPAddressFromContext extracts the caller IP address from context.
func GetIPAddressFromContext(ctx context.Context) string {
	return RequestInfoFromContext(ctx).IPAddress
}
