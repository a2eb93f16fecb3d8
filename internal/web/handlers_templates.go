package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListTemplates returns every active template, database and file.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondOK(w, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, nil)
		return
	}
	respondOK(w, tpl)
}
