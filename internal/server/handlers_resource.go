package server

import (
	"net/http"
)

// lookupResources handles GET /api/resources. A safety lookup never comes
// back empty: unknown locales fall back to the default locale and unmatched
// categories fall back to crisis entries.
func (s *Server) lookupResources(w http.ResponseWriter, r *http.Request) {
	locale := r.URL.Query().Get("locale")
	category := r.URL.Query().Get("category")

	bundle, err := s.directory.Lookup(locale, category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"resources": s.directory.Count(),
	})
}
