package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// requestContext attaches the caller's address and user agent for service
// logging. RemoteAddr has already been rewritten by TrustedRealIP.
func requestContext(r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return core.ContextWithRequestInfo(r.Context(), core.RequestInfo{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})
}
