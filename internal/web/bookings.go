package web

import (
	"net/http"

	"staysync/internal/manual"
	"staysync/internal/model"
	"staysync/internal/report"
)

// handleBookings lists visible bookings.
//
// GET /api/bookings
//   - daysAhead: checkout window from today when no range is given (default 35)
//   - from/to:   YYYY-MM-DD range applied to sortBy's date (default end)
//   - all=true:  no date filter
//   - page/limit, groupId, propertyNames=a,b, includeCancelled=true
func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
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

	page, err := s.reports.Bookings(r.Context(), report.Query{
		PropertyNames:    splitList(q.Get("propertyNames")),
		Group:            q.Get("groupId"),
		From:             from,
		To:               to,
		Field:            report.DateField(q.Get("sortBy")),
		DaysAhead:        parseIntDefault(q.Get("daysAhead"), report.DefaultDaysAhead),
		All:              q.Get("all") == "true",
		IncludeCancelled: q.Get("includeCancelled") == "true",
		Page:             parseIntDefault(q.Get("page"), 1),
		Limit:            parseIntDefault(q.Get("limit"), 0),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{
		"count":      page.Count,
		"totalCount": page.TotalCount,
		"hasMore":    page.HasMore,
		"rows":       page.Rows,
	})
}

type guestsRequest struct {
	Guests *int `json:"guests" validate:"omitempty,gte=0,lte=20"`
}

// POST /api/bookings/{id}/guests {guests: n|null}
func (s *Server) handleGuests(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body guestsRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.manual.SetGuests(r.Context(), id, body.Guests)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"booking": b})
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=5000"`
}

// POST /api/bookings/{id}/notes {notes}
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body notesRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.manual.SetNotes(r.Context(), id, body.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"booking": b})
}

type mergeRequest struct {
	IDs []int64 `json:"ids" validate:"required,len=2,dive,gt=0"`
}

// POST /api/merge {ids: [a, b]}
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body mergeRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.manual.Merge(r.Context(), model.BookingID(body.IDs[0]), model.BookingID(body.IDs[1]))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"booking": m})
}

type splitRequest struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	SplitDate string `json:"splitDate" validate:"required,datetime=2006-01-02"`
}

// POST /api/split {id, splitDate: YYYY-MM-DD}
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var body splitRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, err := model.ParseDay(body.SplitDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid splitDate")
		return
	}
	parts, err := s.manual.Split(r.Context(), model.BookingID(body.ID), day)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"bookings": parts})
}

type idRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

// POST /api/undo-merge {id}
func (s *Server) handleUndoMerge(w http.ResponseWriter, r *http.Request) {
	var body idRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manual.UndoMerge(r.Context(), model.BookingID(body.ID)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, nil)
}

// POST /api/undo-split {id} where id is any part of the split
func (s *Server) handleUndoSplit(w http.ResponseWriter, r *http.Request) {
	var body idRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.manual.UndoSplit(r.Context(), model.BookingID(body.ID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"deleted": n})
}

type resolveRequest struct {
	ID       int64  `json:"id" validate:"required,gt=0"`
	Decision string `json:"decision" validate:"required,oneof=keep remove"`
}

// POST /api/resolve-conflict {id, decision: keep|remove}
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manual.ResolveConflict(r.Context(), model.BookingID(body.ID), manual.Decision(body.Decision)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, nil)
}
