package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkimport/internal/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := APIKeyAuth(cfg)(okHandler)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusForbidden},
		{"first key", "k1", http.StatusOK},
		{"second key", "k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Equal(t, "AUTH002", errorCode(t, rec))
			}
		})
	}

	t.Run("disabled", func(t *testing.T) {
		h := APIKeyAuth(&config.SecurityConfig{})(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCSRF_IssuesToken(t *testing.T) {
	var seen string
	h := CSRF(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CSRFToken(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CSRFCookie, cookies[0].Name)
	assert.Equal(t, seen, cookies[0].Value)

	// An existing cookie is reused.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: "tok"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "tok", seen)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCSRF_UnsafeMethods(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		cookie  string
		header  string
		apiKey  string
		want    int
	}{
		{"matching", true, "tok", "tok", "", http.StatusOK},
		{"mismatch", true, "tok", "other", "", http.StatusForbidden},
		{"no header", true, "tok", "", "", http.StatusForbidden},
		{"no cookie", true, "", "tok", "", http.StatusForbidden},
		{"api key client", true, "", "", "k1", http.StatusOK},
		{"disabled", false, "", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CSRF(tt.enabled)(okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/imports", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(CSRFHeader, tt.header)
			}
			if tt.apiKey != "" {
				req.Header.Set(APIKeyHeader, tt.apiKey)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "AUTH001", errorCode(t, rec))
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"), "buckets are per ip")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("1.1.1.1"), "one token refills per second")

	now = now.Add(10 * time.Minute)
	rl.Allow("3.3.3.3")
	rl.mu.Lock()
	assert.Len(t, rl.visitors, 1, "idle visitors are swept")
	rl.mu.Unlock()
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	h := rl.Middleware(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", errorCode(t, rec))
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		realIP  string
		xff     string
		want    string
	}{
		{"trusted real ip", []string{"10.0.0.0/8"}, "10.1.2.3:5555", "203.0.113.9", "", "203.0.113.9"},
		{"trusted forwarded", []string{"127.0.0.1"}, "127.0.0.1:80", "", "198.51.100.1, 10.0.0.1", "198.51.100.1"},
		{"untrusted", []string{"10.0.0.0/8"}, "192.0.2.7:80", "203.0.113.9", "", "192.0.2.7:80"},
		{"no proxies", nil, "10.1.2.3:5555", "203.0.113.9", "", "10.1.2.3:5555"},
		{"garbage header", []string{"10.0.0.0/8"}, "10.1.2.3:5555", "not-an-ip", "", "10.1.2.3:5555"},
		{"invalid entry skipped", []string{"bogus", "10.0.0.0/8"}, "10.1.2.3:5555", "203.0.113.9", "", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_CapturesStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("short"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short", rec.Body.String())
}
