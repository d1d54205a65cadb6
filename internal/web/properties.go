package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"staysync/internal/ics"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// GET /api/summary?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required (YYYY-MM-DD)")
		return
	}
	from, err := parseOptionalDay("from", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseOptionalDay("to", q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := s.reports.Cleaning(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"summary": sum})
}

func (s *Server) handleCurrentMonth(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reports.CurrentMonth(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"summary": sum})
}

func (s *Server) handleNextMonth(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reports.NextMonth(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"summary": sum})
}

type propertyDTO struct {
	model.Property
	ExportURL string `json:"exportUrl"`
}

func (s *Server) exportURL(token string) string {
	base := ""
	if s.cfg != nil {
		base = strings.TrimRight(s.cfg.PublicURL, "/")
	}
	return base + exportPrefix + token
}

// GET /api/properties
func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	props, err := s.store.ListProperties(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]propertyDTO, 0, len(props))
	for _, p := range props {
		out = append(out, propertyDTO{Property: p, ExportURL: s.exportURL(p.ExportToken)})
	}
	writeOK(w, map[string]any{"properties": out})
}

// POST /api/properties/{name}/export-token issues a fresh export token. The
// previous export URL stops working immediately.
func (s *Server) handleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	token, err := store.NewExportToken()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.store.SetExportToken(r.Context(), name, token); err != nil {
		writeServiceError(w, err)
		return
	}
	appLog.Info("export token regenerated", "property", name)
	writeOK(w, map[string]any{"exportToken": token, "exportUrl": s.exportURL(token)})
}

// handleExport serves a property's active blocks as an iCal feed.
//
// GET /ical/export/{token} (a trailing .ics is accepted)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSuffix(mux.Vars(r)["token"], ".ics")
	prop, err := s.store.PropertyByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "calendar not found")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	blocks, err := s.store.FindBookings(r.Context(), store.Filter{
		PropertyNames: []string{prop.Name},
		Manual:        store.ManualOnly,
		ManualType:    model.ManualBlock,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	body := ics.BuildBlockCalendar(prop, blocks, s.now())
	// The filename follows the canonical name; display names may change.
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ics.CanonicalFilename(prop.Name)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
