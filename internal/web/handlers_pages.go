package web

import (
	"net/http"

	"github.com/JonMunkholm/bulkimport/internal/logging"
	mw "github.com/JonMunkholm/bulkimport/internal/web/middleware"
)

// handleIndex renders the landing page with the anti-forgery meta tag.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	recent, err := s.service.Recent(r.Context(), 20)
	if err != nil {
		logging.FromContext(r.Context()).Warn("load recent imports", "error", err)
		recent = nil
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	page := indexPage(mw.CSRFToken(r.Context()), s.service.Datasets(), recent)
	if err := page.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render index", "error", err)
	}
}
