package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Anti-forgery defaults shared with the server.
const (
	DefaultCSRFHeader = "X-CSRF-Token"
	DefaultCSRFCookie = "csrf_token"
	DefaultCSRFMeta   = "csrf-token"
)

// ErrNoToken is returned by providers that cannot find a token.
var ErrNoToken = errors.New("anti-forgery token not found")

// TokenProvider resolves the anti-forgery token attached to every request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a fixed token, mostly useful in tests and scripts.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// CookieToken reads the token from a cookie jar (double-submit cookie).
type CookieToken struct {
	Jar  http.CookieJar
	URL  *url.URL
	Name string // defaults to DefaultCSRFCookie
}

func (c CookieToken) Token(context.Context) (string, error) {
	if c.Jar == nil || c.URL == nil {
		return "", ErrNoToken
	}
	name := c.Name
	if name == "" {
		name = DefaultCSRFCookie
	}
	for _, ck := range c.Jar.Cookies(c.URL) {
		if ck.Name == name && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", ErrNoToken
}

// MetaTagToken scrapes the token from a <meta name="csrf-token"> element of
// an HTML page. The first successful lookup is cached until Invalidate.
//
// When the client carries a cookie jar, fetching the page also stores the
// matching double-submit cookie.
type MetaTagToken struct {
	client  HTTPDoer
	pageURL string
	name    string

	mu    sync.Mutex
	token string
}

// NewMetaTagToken returns a provider that reads the token from pageURL.
func NewMetaTagToken(client HTTPDoer, pageURL string) *MetaTagToken {
	if client == nil {
		client = http.DefaultClient
	}
	return &MetaTagToken{
		client:  client,
		pageURL: pageURL,
		name:    DefaultCSRFMeta,
	}
}

// Token returns the cached token or fetches the page to find it.
func (m *MetaTagToken) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch token page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse token page: %w", err)
	}

	token := strings.TrimSpace(doc.Find(fmt.Sprintf(`meta[name=%q]`, m.name)).AttrOr("content", ""))
	if token == "" {
		return "", ErrNoToken
	}

	m.token = token
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (m *MetaTagToken) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}
