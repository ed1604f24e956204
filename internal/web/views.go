package web

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// htmlWriter collects the first write error so components can be written
// as straight-line markup.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}

// indexPage is the landing page. It carries the anti-forgery token in a
// meta tag for script clients and lists datasets and recent jobs.
func indexPage(token string, datasets []core.DatasetInfo, recent []core.JobRecord) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="csrf-token" content="`)
		h.text(token)
		h.raw(`"><title>Bulk import</title></head><body>`)

		h.raw(`<h1>Bulk import</h1><section id="datasets"><h2>Datasets</h2><ul>`)
		for _, ds := range datasets {
			h.raw(`<li class="dataset" data-key="`)
			h.text(ds.Key)
			h.raw(`"><strong>`)
			h.text(ds.Label)
			h.raw(`</strong> <code>`)
			h.text(strings.Join(ds.Columns, ", "))
			h.raw(`</code>`)
			if ds.ReferenceRequired {
				h.raw(` <em>requires reference: `)
				h.text(strings.Join(ds.References, ", "))
				h.raw(`</em>`)
			}
			h.raw(`</li>`)
		}
		h.raw(`</ul></section>`)

		h.raw(`<section id="recent"><h2>Recent imports</h2>`)
		if len(recent) == 0 {
			h.raw(`<p class="empty">No imports yet.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>Job</th><th>Dataset</th><th>File</th><th>Status</th><th>Rows</th><th>Errors</th></tr></thead><tbody>`)
			for _, rec := range recent {
				h.raw(`<tr class="job" data-status="`)
				h.text(string(rec.Status))
				h.raw(`"><td><a href="/api/imports/`)
				h.text(url.PathEscape(rec.JobID))
				h.raw(`/panel">`)
				h.text(shortID(rec.JobID))
				h.raw(`</a></td><td>`)
				h.text(rec.Dataset)
				h.raw(`</td><td>`)
				h.text(rec.FileName)
				h.raw(`</td><td>`)
				h.text(string(rec.Status))
				h.rawf(`</td><td>%d</td><td>%d</td></tr>`, rec.Processed, rec.Errors)
			}
			h.raw(`</tbody></table>`)
		}
		h.raw(`</section></body></html>`)
		return h.err
	})
}

// jobPanel renders one job. The retry affordance appears only for jobs in
// the error state; it re-submits the same upload.
func jobPanel(snap core.JobSnapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="import-panel" id="job-`)
		h.text(snap.JobID)
		h.raw(`" data-status="`)
		h.text(string(snap.Status))
		h.raw(`">`)

		h.raw(`<p class="status">`)
		h.text(statusLabel(snap))
		h.raw(`</p>`)

		h.rawf(`<progress max="100" value="%d">%d%%</progress>`, snap.Percent(), snap.Percent())

		h.raw(`<dl><dt>Processed</dt><dd class="processed">`)
		if snap.Total != nil {
			h.rawf(`%d of %d`, snap.Processed, *snap.Total)
		} else {
			h.rawf(`%d`, snap.Processed)
		}
		h.rawf(`</dd><dt>Errors</dt><dd class="errors">%d</dd>`, snap.Errors)
		if snap.Current != nil && !snap.Status.Terminal() {
			h.raw(`<dt>Current</dt><dd class="current">`)
			h.text(currentLabel(*snap.Current))
			h.raw(`</dd>`)
		}
		h.raw(`</dl>`)

		if snap.Status == core.JobError && snap.Message != "" {
			h.raw(`<p class="error-message">`)
			h.text(snap.Message)
			if snap.Code != "" {
				h.raw(` (`)
				h.text(snap.Code)
				h.raw(`)`)
			}
			h.raw(`</p>`)
		}

		if snap.Report != "" {
			h.raw(`<a class="report" href="`)
			h.text(snap.Report)
			h.raw(`">Download error report</a>`)
		}

		if snap.Status == core.JobError {
			h.raw(`<button type="button" class="retry" data-upload-id="`)
			h.text(snap.UploadID)
			h.raw(`" data-dataset="`)
			h.text(snap.Dataset)
			h.raw(`">Retry</button>`)
		}
		h.raw(`</div>`)
		return h.err
	})
}

func statusLabel(snap core.JobSnapshot) string {
	switch snap.Status {
	case core.JobProcessing:
		return fmt.Sprintf("Importing %s (%d%%)", snap.Dataset, snap.Percent())
	case core.JobCancelling:
		return "Cancelling"
	case core.JobCancelled:
		return "Cancelled"
	case core.JobFinished:
		if snap.DryRun {
			return "Validation finished"
		}
		return "Finished"
	case core.JobError:
		return "Failed"
	}
	return string(snap.Status)
}

func currentLabel(p core.Position) string {
	parts := make([]string, 0, 3)
	if p.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", p.Line))
	}
	if p.SKU != "" {
		parts = append(parts, p.SKU)
	}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	return strings.Join(parts, " · ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
