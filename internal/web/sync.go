package web

import (
	"fmt"
	"net/http"
	"time"

	"staysync/internal/ics"
	"staysync/internal/reconcile"
	"staysync/internal/report"
)

// maxDaysAhead bounds rolling windows given by callers.
const maxDaysAhead = 730

// defaultDaysAhead is the rolling window used when a request names none.
func (s *Server) defaultDaysAhead() int {
	if s.cfg != nil && s.cfg.Sync.DaysAhead > 0 {
		return s.cfg.Sync.DaysAhead
	}
	return report.DefaultDaysAhead
}

type syncRequest struct {
	PropertyNames []string `json:"propertyNames"`
	GroupID       string   `json:"groupId"`
	From          string   `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To            string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
	DaysAhead     int      `json:"daysAhead" validate:"gte=0,lte=730"`
}

// handleSync runs a reconciliation pass.
//
// POST /api/sync {propertyNames?, groupId?, from?, to?, daysAhead?}
//   - from defaults to today
//   - to defaults to from+daysAhead, daysAhead to sync.days_ahead
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if r.ContentLength != 0 {
		if err := s.decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	from, err := parseOptionalDay("from", body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseOptionalDay("to", body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := reconcile.Request{PropertyNames: body.PropertyNames, Group: body.GroupID, From: from, To: to}
	if to.IsZero() {
		days := body.DaysAhead
		if days <= 0 {
			days = s.defaultDaysAhead()
		}
		start, _ := s.syncer.Window(req)
		req.To = start.AddDate(0, 0, days)
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	res, err := s.syncer.Sync(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"result": res})
}

// handleFetch previews feed contents without writing anything.
//
// GET /api/fetch?from=YYYY-MM-DD&to=YYYY-MM-DD[&sortBy=start|end][&groupId=][&propertyNames=a,b]
// GET /api/fetch?daysAhead=N keeps reservations checking out within N days
// (sync.days_ahead when neither a range nor daysAhead is given).
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy := ics.SortByEnd
	if v := q.Get("sortBy"); v != "" {
		sortBy = ics.ParseSortBy(v)
	}
	sel := reconcile.Request{
		PropertyNames: splitList(q.Get("propertyNames")),
		Group:         q.Get("groupId"),
	}

	if q.Get("from") == "" && q.Get("to") == "" {
		days := parseIntDefault(q.Get("daysAhead"), s.defaultDaysAhead())
		if days <= 0 || days > maxDaysAhead {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("daysAhead must be between 1 and %d", maxDaysAhead))
			return
		}
		out, err := s.syncer.PreviewDaysAhead(r.Context(), sel, days, sortBy)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w, map[string]any{"rows": out.Reservations, "summary": out.Summary, "daysAhead": days})
		return
	}

	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to must be given together (YYYY-MM-DD)")
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
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}
	sel.From = from
	// The window is inclusive of the whole "to" day.
	sel.To = to.AddDate(0, 0, 1).Add(-time.Millisecond)

	out, err := s.syncer.Preview(r.Context(), sel, sortBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"rows": out.Reservations, "summary": out.Summary})
}

// GET /api/conflicts returns the reports of the most recent sync.
func (s *Server) handleConflicts(w http.ResponseWriter, _ *http.Request) {
	conflicts := s.syncer.LastConflicts()
	writeOK(w, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}
