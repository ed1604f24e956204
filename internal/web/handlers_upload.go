package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// uploadResponse is returned for every chunk.
type uploadResponse struct {
	ID       string `json:"id"`
	File     string `json:"file"`
	Received int64  `json:"received"`
	Size     int64  `json:"size,omitempty"`
	Chunks   int    `json:"chunks"`
	Complete bool   `json:"complete"`
}

func toUploadResponse(u core.UploadSession) uploadResponse {
	return uploadResponse{
		ID:       u.ID,
		File:     u.FileName,
		Received: u.Received,
		Size:     u.Size,
		Chunks:   u.Chunks,
		Complete: u.Complete(),
	}
}

// handleCreateUpload starts an upload with the first chunk as the body.
// Upload-Length declares the whole file size; X-File-Name names it.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	size, err := int64Header(r, "Upload-Length", 0)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	name := r.Header.Get("X-File-Name")
	if name == "" {
		name = r.URL.Query().Get("name")
	}

	sess, err := s.service.CreateUpload(requestContext(r), name, size, r.Body)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Location", "/api/uploads/"+sess.ID)
	writeJSON(w, http.StatusCreated, toUploadResponse(sess))
}

// handleAppendChunk stores a follow-up chunk: PATCH /api/uploads?patch=<id>.
// Upload-Offset addresses the write; without it the chunk is appended.
func (s *Server) handleAppendChunk(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("patch"))
	if id == "" {
		s.respondError(w, r, core.ErrUploadNotFound, http.StatusBadRequest)
		return
	}

	offset, err := int64Header(r, "Upload-Offset", -1)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	sess, err := s.service.AppendChunk(requestContext(r), id, offset, r.Body)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, toUploadResponse(sess))
}

// handleGetUpload returns the state of an upload session.
func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetUpload(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponse(sess))
}

func int64Header(r *http.Request, name string, def int64) (int64, error) {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s header %q", name, v)
	}
	return n, nil
}
