package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

// Double-submit anti-forgery names. The client reads the cookie or the
// page's meta tag and echoes the value in the header.
const (
	CSRFCookie = "csrf_token"
	CSRFHeader = "X-CSRF-Token"
)

type csrfKey struct{}

// CSRFToken returns the token issued for the request, for rendering into
// pages.
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfKey{}).(string)
	return token
}

// CSRF issues a token cookie to clients that lack one and rejects
// state-changing requests whose X-CSRF-Token header does not match it.
// Requests carrying an API key are left to APIKeyAuth: browsers cannot
// attach that header cross-site without a CORS preflight.
func CSRF(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(CSRFCookie); err == nil && c.Value != "" {
				token = c.Value
			}
			issued := token == ""
			if issued {
				token = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookie,
					Value:    token,
					Path:     "/",
					SameSite: http.SameSiteStrictMode,
					Secure:   r.TLS != nil,
				})
			}
			r = r.WithContext(context.WithValue(r.Context(), csrfKey{}, token))

			if enabled && unsafeMethod(r.Method) && r.Header.Get(APIKeyHeader) == "" {
				sent := r.Header.Get(CSRFHeader)
				if issued || sent == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
					writeError(w, http.StatusForbidden, "csrf token missing or invalid")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
