package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkimport/internal/core"
	"github.com/JonMunkholm/bulkimport/internal/logging"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// startRequest is the body of POST /api/imports.
type startRequest struct {
	UploadID      string            `json:"uploadId"`
	Configuration core.ImportConfig `json:"configuration"`
}

// handleStartImport starts an import of a completed upload.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UploadID) == "" {
		err := &core.ConfigError{Field: "uploadId", Reason: "is required"}
		s.respondError(w, r, err, statusFor(err))
		return
	}

	snap, err := s.service.StartImport(requestContext(r), req.UploadID, req.Configuration)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Location", "/api/imports/"+snap.JobID)
	writeJSON(w, http.StatusAccepted, snap)
}

// handleListImports returns recent jobs, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.Recent(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if records == nil {
		records = []core.JobRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleImportStatus returns the job snapshot polled by clients.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snap)
}

// handleCancelImport requests cancellation. The job id comes from the path
// or, on POST /api/imports/cancel, from a {"jobId"} body.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		var body struct {
			JobID string `json:"jobId"`
		}
		if err := decodeJSON(r, &body); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		jobID = body.JobID
	}
	if jobID == "" {
		s.respondError(w, r, core.ErrJobNotFound, http.StatusBadRequest)
		return
	}

	snap, err := s.service.CancelImport(requestContext(r), jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// handleImportEvents streams snapshots as server-sent events until the job
// ends. Jobs running on another instance or already finished get a single
// event with their stored snapshot.
//
// Event ids are the processed row count so a reconnecting client can skip
// what it has seen via Last-Event-ID.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	snap, err := s.service.Status(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	var lastID int64 = -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(event string, snap core.JobSnapshot) bool {
		data, err := sonic.Marshal(snap)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", snap.Processed, event, data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	updates, unsubscribe, err := s.service.Subscribe(jobID)
	if err != nil {
		send(eventName(snap), snap)
		return
	}
	defer unsubscribe()

	logger := logging.WithFields(r.Context(), "job_id", jobID)
	logger.Debug("event stream opened")

	last := snap
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				// The job ended; its final state is in the finished cache.
				if final, err := s.service.Status(r.Context(), jobID); err == nil {
					last = final
				}
				send(eventName(last), last)
				logger.Debug("event stream closed", "status", last.Status)
				return
			}
			last = snap
			if snap.Processed <= lastID && !snap.Status.Terminal() {
				continue
			}
			if !send(eventName(snap), snap) || snap.Status.Terminal() {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func eventName(snap core.JobSnapshot) string {
	if snap.Status.Terminal() {
		return "done"
	}
	return "progress"
}

// handleImportReport serves the failed-row CSV, or redirects to it when the
// report store hands out direct links.
func (s *Server) handleImportReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rc, link, err := s.service.OpenReport(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if link != "" {
		http.Redirect(w, r, link, http.StatusFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import-%s-errors.csv"`, jobID))
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(r.Context()).Error("stream report", "job_id", jobID, "error", err)
	}
}

// handleImportPanel renders the job as an HTML fragment.
func (s *Server) handleImportPanel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := jobPanel(snap).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render panel", "job_id", snap.JobID, "error", err)
	}
}

// handleListDatasets lists importable datasets.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Datasets())
}

// decodeJSON reads a bounded JSON body. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxRequestBody {
		return errors.New("request body too large")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
