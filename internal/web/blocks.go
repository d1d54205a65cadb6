package web

import (
	"net/http"

	"staysync/internal/manual"
	"staysync/internal/model"
)

type blockRequest struct {
	PropertyName string `json:"propertyName" validate:"required"`
	Start        string `json:"start" validate:"required,datetime=2006-01-02"`
	End          string `json:"end" validate:"required,datetime=2006-01-02"`
	Reason       string `json:"reason" validate:"max=500"`
}

type blockUpdateRequest struct {
	Start  string  `json:"start" validate:"required,datetime=2006-01-02"`
	End    string  `json:"end" validate:"required,datetime=2006-01-02"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// POST /api/blocks {propertyName, start, end, reason?}
//
// Dates are days; end is the first free day.
func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var body blockRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, _ := model.ParseDay(body.Start)
	end, _ := model.ParseDay(body.End)

	blk, err := s.manual.CreateBlock(r.Context(), manual.Block{
		PropertyName: body.PropertyName,
		Start:        start,
		End:          end,
		Reason:       body.Reason,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"block": blk})
}

// PUT /api/blocks/{id} {start, end, reason?}
func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body blockUpdateRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, _ := model.ParseDay(body.Start)
	end, _ := model.ParseDay(body.End)

	blk, err := s.manual.UpdateBlock(r.Context(), id, start, end, body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"block": blk})
}

// DELETE /api/blocks/{id}
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manual.DeleteBlock(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, nil)
}

// POST /api/blocks/{id}/resolve-conflict clears the block's conflict flag.
func (s *Server) handleResolveBlockConflict(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blk, err := s.manual.ResolveBlockConflict(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, map[string]any{"block": blk})
}
