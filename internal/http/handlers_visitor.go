package http

import (
	"encoding/json"
	"net/http"

	"frais/internal/core"
	"frais/internal/log"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
}

func (s *Server) handleLoginVisitor(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.svc.Accounts.AuthenticateVisitor(r.Context(), req.Login, req.Password)
	if err != nil {
		s.respondServiceError(w, r, log.OpLogin, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{ID: v.ID, Role: "visitor", Name: v.Name, FirstName: v.FirstName})
}

func (s *Server) handleLoginAccountant(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.svc.Accounts.AuthenticateAccountant(r.Context(), req.Login, req.Password)
	if err != nil {
		s.respondServiceError(w, r, log.OpLogin, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{ID: a.ID, Role: "accountant", Name: a.Name, FirstName: a.FirstName})
}

func (s *Server) handleFlatRateTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.Sheets.ListFlatRateTypes(r.Context())
	if err != nil {
		s.respondServiceError(w, r, "list_flat_rate_types", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flat_rate_types": orEmpty(types)})
}

func (s *Server) handleListMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.svc.Sheets.ListAvailableMonths(r.Context(), visitorFrom(r.Context()).ID)
	if err != nil {
		s.respondServiceError(w, r, "list_months", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"months": orEmpty(months)})
}

func (s *Server) handleOpenMonth(w http.ResponseWriter, r *http.Request) {
	sheet, created, err := s.svc.Sheets.OpenMonth(r.Context(), visitorFrom(r.Context()).ID)
	if err != nil {
		s.respondServiceError(w, r, log.OpOpenMonth, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	respondJSON(w, code, sheet)
}

func (s *Server) respondSummary(w http.ResponseWriter, r *http.Request, summary *core.MonthSummary, err error) {
	if err != nil {
		s.respondServiceError(w, r, "month_summary", err)
		return
	}
	if summary == nil {
		respondError(w, http.StatusNotFound, "no expense sheet for this month")
		return
	}
	summary.FlatRate = orEmpty(summary.FlatRate)
	summary.FreeForm = orEmpty(summary.FreeForm)
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCurrentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Sheets.MonthSummary(r.Context(), visitorFrom(r.Context()).ID, s.svc.Sheets.CurrentMonth())
	s.respondSummary(w, r, summary, err)
}

func (s *Server) handleVisitorSummary(w http.ResponseWriter, r *http.Request) {
	month, err := pathMonth(r)
	if err != nil {
		s.respondServiceError(w, r, "month_summary", err)
		return
	}
	summary, err := s.svc.Sheets.MonthSummary(r.Context(), visitorFrom(r.Context()).ID, month)
	s.respondSummary(w, r, summary, err)
}

type quantitiesRequest struct {
	Quantities map[string]json.RawMessage `json:"quantities"`
}

func (s *Server) handleUpdateFlatRate(w http.ResponseWriter, r *http.Request) {
	var req quantitiesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	raw := make(map[string]string, len(req.Quantities))
	for id, v := range req.Quantities {
		raw[id] = rawText(v)
	}

	visitorID := visitorFrom(r.Context()).ID
	if err := s.svc.Sheets.UpdateFlatRateQuantities(r.Context(), visitorID, raw); err != nil {
		s.respondServiceError(w, r, log.OpUpdateFlat, err)
		return
	}
	summary, err := s.svc.Sheets.MonthSummary(r.Context(), visitorID, s.svc.Sheets.CurrentMonth())
	s.respondSummary(w, r, summary, err)
}

type receiptsRequest struct {
	Count *int `json:"count"`
}

func (s *Server) handleVisitorReceipts(w http.ResponseWriter, r *http.Request) {
	var req receiptsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Count == nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string][]string{"errors": {"count is required"}})
		return
	}
	if err := s.svc.Sheets.SetReceiptCount(r.Context(), visitorFrom(r.Context()).ID, *req.Count); err != nil {
		s.respondServiceError(w, r, log.OpReceipts, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type freeFormRequest struct {
	Date   string          `json:"date"`
	Label  string          `json:"label"`
	Amount json.RawMessage `json:"amount"`
}

func (req freeFormRequest) input() core.FreeFormInput {
	in := core.FreeFormInput{Date: req.Date, Label: req.Label}
	if len(req.Amount) > 0 {
		in.Amount = rawText(req.Amount)
	}
	return in
}

func (s *Server) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var req freeFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := s.svc.Sheets.AddFreeFormLine(r.Context(), visitorFrom(r.Context()).ID, req.input())
	if err != nil {
		s.respondServiceError(w, r, log.OpAddLine, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (s *Server) handleModifyLine(w http.ResponseWriter, r *http.Request) {
	id, err := pathLineID(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpModifyLine, err)
		return
	}
	var req freeFormRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := s.svc.Sheets.ModifyFreeFormLine(r.Context(), visitorFrom(r.Context()).ID, id, req.input())
	if err != nil {
		s.respondServiceError(w, r, log.OpModifyLine, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (s *Server) handleDeleteLine(w http.ResponseWriter, r *http.Request) {
	id, err := pathLineID(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpDeleteLine, err)
		return
	}
	if err := s.svc.Sheets.DeleteFreeFormLine(r.Context(), visitorFrom(r.Context()).ID, id); err != nil {
		s.respondServiceError(w, r, log.OpDeleteLine, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
