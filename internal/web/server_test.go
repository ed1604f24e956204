package web

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkimport/internal/config"
	"github.com/JonMunkholm/bulkimport/internal/core"
	_ "github.com/JonMunkholm/bulkimport/internal/core/datasets"
	"github.com/JonMunkholm/bulkimport/internal/importer"
	"github.com/JonMunkholm/bulkimport/internal/storage/memory"
	mw "github.com/JonMunkholm/bulkimport/internal/web/middleware"
)

const testToken = "tok"

const productsCSV = `sku,name,price,category,active
a-1,Hammer,9.99,tools,yes
a-2,Saw,abc,tools,no
a-3,Drill,20,garden,
`

type testEnv struct {
	srv  *Server
	svc  *core.Service
	sink *memory.Sink
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Upload.MaxChunkSize = 1 << 16
	cfg.Security.CSRF = true
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*config.Config), reports core.ReportStore) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	if reports == nil {
		reports = memory.NewReports()
	}

	sink := memory.NewSink()
	sink.Seed("categories", core.Record{Key: "tools"})

	svc, err := core.NewService(core.Stores{
		Uploads: memory.NewUploads(time.Hour),
		Spool:   memory.NewSpool(),
		History: memory.NewHistory(),
		Reports: reports,
		Sink:    sink,
		Locker:  memory.NewLocker(),
	}, core.ServiceConfig{
		MaxFileSize:  cfg.Upload.MaxFileSize,
		MaxChunkSize: cfg.Upload.MaxChunkSize,
	}, core.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	return &testEnv{srv: NewServer(svc, cfg, logger), svc: svc, sink: sink}
}

// do sends a request with a valid double-submit token.
func (e *testEnv) do(t *testing.T, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: mw.CSRFCookie, Value: testToken})
	req.Header.Set(mw.CSRFHeader, testToken)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, body string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/uploads", []byte(body), http.Header{
		"Upload-Length": {strconv.Itoa(len(body))},
		"X-File-Name":   {"products.csv"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp uploadResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func (e *testEnv) startJSON(t *testing.T, uploadID string, cfg core.ImportConfig) *httptest.ResponseRecorder {
	t.Helper()
	body, err := sonic.Marshal(startRequest{UploadID: uploadID, Configuration: cfg})
	require.NoError(t, err)
	return e.do(t, http.MethodPost, "/api/imports", body, http.Header{"Content-Type": {"application/json"}})
}

func (e *testEnv) wait(t *testing.T, jobID string) core.JobSnapshot {
	t.Helper()
	var snap core.JobSnapshot
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/imports/"+jobID, nil, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			return false
		}
		return snap.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIndex_RendersTokenAndDatasets(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content")
	require.True(t, ok)
	assert.Equal(t, cookies[0].Value, token)

	var keys []string
	doc.Find("li.dataset").Each(func(_ int, s *goquery.Selection) {
		keys = append(keys, s.AttrOr("data-key", ""))
	})
	assert.Contains(t, keys, "products")
	assert.Contains(t, keys, "categories")
	assert.Contains(t, doc.Find(`li.dataset[data-key="products"]`).Text(), "requires reference")
	assert.Equal(t, 1, doc.Find("p.empty").Length())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string                `json:"status"`
		Imports core.JobLimiterStatus `json:"imports"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Positive(t, body.Imports.MaxConcurrent)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestUploads_Chunked(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	data := productsCSV

	rec := env.do(t, http.MethodPost, "/api/uploads", []byte(data[:20]), http.Header{
		"Upload-Length": {strconv.Itoa(len(data))},
		"X-File-Name":   {"dir/products.csv"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created uploadResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "products.csv", created.File)
	assert.False(t, created.Complete)

	// A retried chunk at the same offset overwrites.
	for range 2 {
		rec = env.do(t, http.MethodPatch, "/api/uploads?patch="+created.ID, []byte(data[20:]), http.Header{
			"Upload-Offset": {"20"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	var patched uploadResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &patched))
	assert.Equal(t, int64(len(data)), patched.Received)
	assert.True(t, patched.Complete)

	rec = env.do(t, http.MethodGet, "/api/uploads/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got uploadResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, patched, got)
}

func TestUploads_Errors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.upload(t, "abc")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		header http.Header
		want   int
		code   string
	}{
		{"unknown upload", http.MethodPatch, "/api/uploads?patch=nope", "x", nil, http.StatusNotFound, "UPL001"},
		{"offset gap", http.MethodPatch, "/api/uploads?patch=" + id, "x", http.Header{"Upload-Offset": {"10"}}, http.StatusConflict, "UPL004"},
		{"bad offset", http.MethodPatch, "/api/uploads?patch=" + id, "x", http.Header{"Upload-Offset": {"-3"}}, http.StatusBadRequest, ""},
		{"bad length", http.MethodPost, "/api/uploads", "x", http.Header{"Upload-Length": {"many"}}, http.StatusBadRequest, ""},
		{"declared too large", http.MethodPost, "/api/uploads", "x", http.Header{"Upload-Length": {strconv.Itoa(2 << 20)}}, http.StatusRequestEntityTooLarge, "FILE001"},
		{"empty chunk", http.MethodPost, "/api/uploads", "", nil, http.StatusBadRequest, ""},
		{"missing upload", http.MethodGet, "/api/uploads/nope", "", nil, http.StatusNotFound, "UPL001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, []byte(tt.body), tt.header)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorBody(t, rec).Code)
			}
		})
	}
}

func TestCSRF_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader("abc"))
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKey_Required(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"secret"}
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Key holders skip the anti-forgery check.
	req = httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader("abc"))
	req.Header.Set(mw.APIKeyHeader, "secret")
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The landing page stays public.
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartImport_Errors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	complete := env.upload(t, productsCSV)

	partial := env.do(t, http.MethodPost, "/api/uploads", []byte("sku"), http.Header{"Upload-Length": {"100"}})
	require.Equal(t, http.StatusCreated, partial.Code)
	var p uploadResponse
	require.NoError(t, sonic.Unmarshal(partial.Body.Bytes(), &p))

	tests := []struct {
		name   string
		upload string
		cfg    core.ImportConfig
		want   int
	}{
		{"missing upload id", "", core.ImportConfig{Dataset: "categories"}, http.StatusUnprocessableEntity},
		{"unknown upload", "nope", core.ImportConfig{Dataset: "categories"}, http.StatusNotFound},
		{"incomplete upload", p.ID, core.ImportConfig{Dataset: "categories"}, http.StatusConflict},
		{"no dataset", complete, core.ImportConfig{}, http.StatusUnprocessableEntity},
		{"missing reference", complete, core.ImportConfig{Dataset: "products"}, http.StatusUnprocessableEntity},
		{"bad strategy", complete, core.ImportConfig{Dataset: "categories", Strategy: "merge"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.startJSON(t, tt.upload, tt.cfg)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/imports", []byte("{"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestImport_FinishesWithReport(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.upload(t, productsCSV)

	rec := env.startJSON(t, id, core.ImportConfig{Dataset: "products", Reference: "categories"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started core.JobSnapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, "/api/imports/"+started.JobID, rec.Header().Get("Location"))

	snap := env.wait(t, started.JobID)
	assert.Equal(t, core.JobFinished, snap.Status)
	assert.Equal(t, int64(2), snap.Errors)
	assert.Equal(t, int64(1), snap.Inserted)
	require.NotEmpty(t, snap.Report)

	rec = env.do(t, http.MethodGet, snap.Report, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	report := rec.Body.String()
	assert.True(t, strings.HasPrefix(report, "_line,_error,"), report)
	assert.Contains(t, report, "a-2")
	assert.Contains(t, report, "a-3")

	rec = env.do(t, http.MethodGet, "/api/imports?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []core.JobRecord
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "products.csv", recent[0].FileName)

	// A finished job streams a single terminal event.
	rec = env.do(t, http.MethodGet, "/api/imports/"+started.JobID+"/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: done")
	assert.Contains(t, rec.Body.String(), `"status":"finished"`)

	// Cancelling a finished job is a conflict.
	rec = env.do(t, http.MethodPost, "/api/imports/"+started.JobID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestImport_StatusErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, path := range []string{"/api/imports/nope", "/api/imports/nope/panel", "/api/imports/nope/report", "/api/imports/nope/events"} {
		rec := env.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := env.do(t, http.MethodPost, "/api/imports/cancel", []byte(`{"jobId":"nope"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP001", errorBody(t, rec).Code)
}

func TestImport_NoReportWhenClean(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.upload(t, "code,name\ngarden,Garden\n")

	rec := env.startJSON(t, id, core.ImportConfig{Dataset: "categories"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started core.JobSnapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &started))

	snap := env.wait(t, started.JobID)
	assert.Equal(t, core.JobFinished, snap.Status)
	assert.Equal(t, int64(0), snap.Errors)
	assert.Empty(t, snap.Report)

	rec = env.do(t, http.MethodGet, "/api/imports/"+started.JobID+"/report", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// linkingReports hands out direct links like the S3 store does.
type linkingReports struct {
	*memory.Reports
}

func (linkingReports) ReportLink(_ context.Context, jobID string) (string, error) {
	return "https://reports.example.test/" + jobID + ".csv", nil
}

func TestImportReport_Redirects(t *testing.T) {
	env := newTestEnv(t, nil, linkingReports{memory.NewReports()})
	id := env.upload(t, productsCSV)

	rec := env.startJSON(t, id, core.ImportConfig{Dataset: "products", Reference: "categories"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started core.JobSnapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &started))
	env.wait(t, started.JobID)

	rec = env.do(t, http.MethodGet, "/api/imports/"+started.JobID+"/report", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://reports.example.test/"+started.JobID+".csv", rec.Header().Get("Location"))
}

func TestImportPanel(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	id := env.upload(t, productsCSV)

	rec := env.startJSON(t, id, core.ImportConfig{Dataset: "products", Reference: "categories"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started core.JobSnapshot
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &started))
	env.wait(t, started.JobID)

	rec = env.do(t, http.MethodGet, "/api/imports/"+started.JobID+"/panel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)

	panel := doc.Find(".import-panel")
	assert.Equal(t, "finished", panel.AttrOr("data-status", ""))
	assert.Equal(t, "2", strings.TrimSpace(panel.Find("dd.errors").Text()))
	assert.Equal(t, "/api/imports/"+started.JobID+"/report", panel.Find("a.report").AttrOr("href", ""))
	assert.Zero(t, panel.Find("button.retry").Length(), "retry only shows for failed jobs")
}

func TestJobPanel_States(t *testing.T) {
	total := int64(10)
	tests := []struct {
		name      string
		snap      core.JobSnapshot
		wantRetry bool
		wantText  string
	}{
		{
			name:     "processing",
			snap:     core.JobSnapshot{JobID: "j", Dataset: "products", Status: core.JobProcessing, Processed: 5, Total: &total, Current: &core.Position{Line: 6, SKU: "A-5", Name: "Saw"}},
			wantText: "line 6 · A-5 · Saw",
		},
		{
			name:      "error",
			snap:      core.JobSnapshot{JobID: "j", UploadID: "u1", Status: core.JobError, Message: "Database operation timed out", Code: "DB006"},
			wantRetry: true,
			wantText:  "Database operation timed out (DB006)",
		},
		{
			name:     "cancelled",
			snap:     core.JobSnapshot{JobID: "j", Status: core.JobCancelled},
			wantText: "Cancelled",
		},
		{
			name:     "escapes",
			snap:     core.JobSnapshot{JobID: "j", Status: core.JobProcessing, Current: &core.Position{Name: "<script>"}},
			wantText: "<script>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, jobPanel(tt.snap).Render(context.Background(), &buf))
			assert.NotContains(t, buf.String(), "<script>")

			doc, err := goquery.NewDocumentFromReader(&buf)
			require.NoError(t, err)
			assert.Contains(t, doc.Text(), tt.wantText)

			retry := doc.Find("button.retry")
			if tt.wantRetry {
				require.Equal(t, 1, retry.Length())
				assert.Equal(t, tt.snap.UploadID, retry.AttrOr("data-upload-id", ""))
			} else {
				assert.Zero(t, retry.Length())
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrUploadNotFound, http.StatusNotFound},
		{core.ErrJobNotFound, http.StatusNotFound},
		{core.ErrUploadIncomplete, http.StatusConflict},
		{core.ErrJobActive, http.StatusConflict},
		{core.ErrUploadSealed, http.StatusConflict},
		{&core.ConfigError{Field: "dataset", Reason: "is required"}, http.StatusUnprocessableEntity},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{core.ErrChunkTooLarge, http.StatusRequestEntityTooLarge},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSession_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ts := httptest.NewServer(env.srv.Router())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	httpClient := &http.Client{Jar: jar}

	client := importer.NewClient(httpClient, importer.NewMetaTagToken(httpClient, ts.URL+"/"), importer.DefaultEndpoints(ts.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	datasets, err := client.Datasets(ctx)
	require.NoError(t, err)

	var updates int
	session := importer.NewSession(client, importer.SessionConfig{
		BaseURL:      ts.URL,
		Upload:       importer.UploadConfig{ChunkSize: 16, RetryDelays: []time.Duration{}},
		PollInterval: 10 * time.Millisecond,
		Catalog:      importer.CatalogFrom(datasets),
		OnUpdate:     func(importer.Job) { updates++ },
		Logger:       slog.New(slog.DiscardHandler),
	})
	t.Cleanup(session.Close)

	file := importer.File{Name: "products.csv", Size: int64(len(productsCSV)), Data: strings.NewReader(productsCSV)}
	uploadID, err := session.Upload(ctx, file)
	require.NoError(t, err)

	upload, err := env.svc.GetUpload(ctx, uploadID)
	require.NoError(t, err)
	assert.True(t, upload.Complete())
	assert.Equal(t, (len(productsCSV)+15)/16, upload.Chunks)

	session.Configure(importer.ImportConfig{Dataset: "products", Reference: "categories"})
	_, err = session.Start(ctx)
	require.NoError(t, err)

	job, err := session.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusFinished, job.Status)
	assert.Equal(t, int64(2), job.Errors)
	assert.Equal(t, 100, job.Percent())
	assert.Positive(t, updates)
	// the job only reads finished once the server has stored the report
	assert.Equal(t, "/api/imports/"+job.JobID+"/report", job.ReportURL)

	link, err := session.ReportURL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, ts.URL+"/api/imports/"), link)

	resp, err := httpClient.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "price: invalid number")

	imported := env.sink.Records("products")
	require.Len(t, imported, 1)
	assert.Equal(t, "A-1", imported[0].Key)
}
