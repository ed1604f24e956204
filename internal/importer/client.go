package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

// maxResponseBody bounds how much of a response body is read into memory.
const maxResponseBody = 1 << 20

// HTTPDoer is the interface for executing HTTP requests.
// *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoints are the server URLs the pipeline talks to. Cancel and Progress
// may contain a {jobId} placeholder.
type Endpoints struct {
	Upload   string
	Start    string
	Cancel   string
	Progress string
	Datasets string
}

// DefaultEndpoints returns the endpoint layout served by cmd/server.
func DefaultEndpoints(baseURL string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	return Endpoints{
		Upload:   base + "/api/uploads",
		Start:    base + "/api/imports",
		Cancel:   base + "/api/imports/{jobId}/cancel",
		Progress: base + "/api/imports/{jobId}",
		Datasets: base + "/api/datasets",
	}
}

func expandJob(tmpl, jobID string) string {
	return strings.ReplaceAll(tmpl, "{jobId}", url.PathEscape(jobID))
}

// ImportConfig is the configuration sent with a start request.
type ImportConfig struct {
	Dataset   string `json:"dataset" yaml:"dataset"`
	Strategy  string `json:"strategy,omitempty" yaml:"strategy"`
	Reference string `json:"reference,omitempty" yaml:"reference"`
	DryRun    bool   `json:"dryRun,omitempty" yaml:"dry_run"`
}

// StartResult is the server's answer to a start request.
type StartResult struct {
	JobID    string
	Snapshot *Snapshot // first status, when the server embeds it
}

// Backend issues the job lifecycle requests.
type Backend interface {
	StartImport(ctx context.Context, uploadID string, cfg ImportConfig) (StartResult, error)
	CancelImport(ctx context.Context, jobID string) error
}

// StatusFetcher performs one status poll.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (Snapshot, error)
}

// Client talks to the import server over HTTP. It implements Backend and
// StatusFetcher and supplies the request plumbing used by the Uploader.
type Client struct {
	http       HTTPDoer
	tokens     TokenProvider
	endpoints  Endpoints
	csrfHeader string
	apiKey     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sends key in the X-API-Key header on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithCSRFHeader overrides the anti-forgery header name.
func WithCSRFHeader(name string) ClientOption {
	return func(c *Client) { c.csrfHeader = name }
}

// NewClient creates a Client. A nil token provider sends no token.
func NewClient(doer HTTPDoer, tokens TokenProvider, endpoints Endpoints, opts ...ClientOption) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		http:       doer,
		tokens:     tokens,
		endpoints:  endpoints,
		csrfHeader: DefaultCSRFHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the configured endpoints.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do sends one request with the anti-forgery token attached. A 401 or 403
// becomes an AuthError; other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	token, tokenErr := c.tokens.Token(ctx)
	if tokenErr == nil && token != "" {
		req.Header.Set(c.csrfHeader, token)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		return nil, &AuthError{Status: resp.StatusCode, Err: tokenErr}
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (c *Client) statusError(method, rawURL string, r *response) error {
	return &ResponseError{
		Method: method,
		URL:    rawURL,
		Status: r.status,
		Body:   serverMessage(r.body),
	}
}

// serverMessage extracts the human message from a JSON error body.
func serverMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}

var jsonHeader = http.Header{
	"Content-Type": {"application/json"},
	"Accept":       {"application/json"},
}

// StartImport asks the server to import uploadID with cfg.
func (c *Client) StartImport(ctx context.Context, uploadID string, cfg ImportConfig) (StartResult, error) {
	payload, err := sonic.Marshal(struct {
		UploadID      string       `json:"uploadId"`
		Configuration ImportConfig `json:"configuration"`
	}{uploadID, cfg})
	if err != nil {
		return StartResult{}, fmt.Errorf("encode start request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoints.Start, jsonHeader, payload)
	if err != nil {
		return StartResult{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return StartResult{}, c.statusError(http.MethodPost, c.endpoints.Start, resp)
	}

	var body struct {
		Snapshot
		ID  *string   `json:"id,omitempty"`
		Job *Snapshot `json:"job,omitempty"`
	}
	if err := sonic.Unmarshal(resp.body, &body); err != nil {
		return StartResult{}, fmt.Errorf("decode start response: %w", err)
	}

	snap := body.Snapshot
	if body.Job != nil {
		snap = snap.Merge(*body.Job)
	}
	switch {
	case snap.JobID != nil && *snap.JobID != "":
		return StartResult{JobID: *snap.JobID, Snapshot: &snap}, nil
	case body.ID != nil && *body.ID != "":
		return StartResult{JobID: *body.ID, Snapshot: &snap}, nil
	}
	return StartResult{}, fmt.Errorf("start response carried no job id")
}

// CancelImport asks the server to cancel jobID.
func (c *Client) CancelImport(ctx context.Context, jobID string) error {
	target := expandJob(c.endpoints.Cancel, jobID)
	payload, err := sonic.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return fmt.Errorf("encode cancel request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, target, jsonHeader, payload)
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status > 299 {
		return c.statusError(http.MethodPost, target, resp)
	}
	return nil
}

// FetchStatus performs one status poll. Non-2xx responses are errors; the
// poller retries all of them except AuthError.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (Snapshot, error) {
	target := expandJob(c.endpoints.Progress, jobID)
	resp, err := c.do(ctx, http.MethodGet, target, http.Header{"Accept": {"application/json"}}, nil)
	if err != nil {
		return Snapshot{}, err
	}
	if resp.status < 200 || resp.status > 299 {
		return Snapshot{}, c.statusError(http.MethodGet, target, resp)
	}
	return DecodeSnapshot(resp.body)
}

// DatasetInfo describes an importable dataset.
type DatasetInfo struct {
	Key               string   `json:"key"`
	Label             string   `json:"label"`
	Columns           []string `json:"columns"`
	ReferenceRequired bool     `json:"referenceRequired"`
	References        []string `json:"references,omitempty"`
}

// Datasets lists the datasets the server can import.
func (c *Client) Datasets(ctx context.Context) ([]DatasetInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoints.Datasets, http.Header{"Accept": {"application/json"}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status > 299 {
		return nil, c.statusError(http.MethodGet, c.endpoints.Datasets, resp)
	}
	var out []DatasetInfo
	if err := sonic.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("decode datasets: %w", err)
	}
	return out, nil
}
