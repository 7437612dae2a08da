package http

import (
	"net/http"
	"strings"

	"frais/internal/core"
	"frais/internal/log"

	"github.com/gorilla/mux"
)

func (s *Server) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	visitors, err := s.svc.Accounting.ListVisitors(r.Context())
	if err != nil {
		s.respondServiceError(w, r, "list_visitors", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"visitors": orEmpty(visitors)})
}

func (s *Server) handleValidatedMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.svc.Accounting.ListValidatedMonths(r.Context())
	if err != nil {
		s.respondServiceError(w, r, "list_validated_months", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"months": orEmpty(months)})
}

func (s *Server) handleSheetsByState(w http.ResponseWriter, r *http.Request) {
	state := core.SheetState(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state"))))
	sheets, err := s.svc.Accounting.ListSheetsByState(r.Context(), state)
	if err != nil {
		s.respondServiceError(w, r, "list_sheets_by_state", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sheets": orEmpty(sheets)})
}

// sheetTarget reads the visitor and month a review request is about.
func sheetTarget(r *http.Request) (string, core.MonthKey, error) {
	month, err := pathMonth(r)
	if err != nil {
		return "", "", err
	}
	return mux.Vars(r)["visitor"], month, nil
}

func (s *Server) handleAccountingSummary(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, "month_summary", err)
		return
	}
	summary, err := s.svc.Accounting.MonthSummary(r.Context(), visitorID, month)
	s.respondSummary(w, r, summary, err)
}

func (s *Server) handleAccountingReceipts(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpReceipts, err)
		return
	}
	var req receiptsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Count == nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string][]string{"errors": {"count is required"}})
		return
	}
	if err := s.svc.Accounting.SetReceiptCount(r.Context(), visitorID, month, *req.Count); err != nil {
		s.respondServiceError(w, r, log.OpReceipts, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpValidate, err)
		return
	}
	sheet, err := s.svc.Accounting.Validate(r.Context(), visitorID, month)
	if err != nil {
		s.respondServiceError(w, r, log.OpValidate, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleReimburse(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpReimburse, err)
		return
	}
	sheet, err := s.svc.Accounting.Reimburse(r.Context(), visitorID, month)
	if err != nil {
		s.respondServiceError(w, r, log.OpReimburse, err)
		return
	}
	respondJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleRefuse(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpRefuse, err)
		return
	}
	id, err := pathLineID(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpRefuse, err)
		return
	}
	line, err := s.svc.Accounting.RefuseFreeFormLine(r.Context(), visitorID, month, id)
	if err != nil {
		s.respondServiceError(w, r, log.OpRefuse, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (s *Server) handleDefer(w http.ResponseWriter, r *http.Request) {
	visitorID, month, err := sheetTarget(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpDefer, err)
		return
	}
	id, err := pathLineID(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpDefer, err)
		return
	}
	target, err := s.svc.Accounting.DeferFreeFormLine(r.Context(), visitorID, month, id)
	if err != nil {
		s.respondServiceError(w, r, log.OpDefer, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "target_month": target})
}

type batchResponse struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// respondBatch reports partial success; a batch that failed outright maps
// like any other service error.
func (s *Server) respondBatch(w http.ResponseWriter, r *http.Request, op string, n int, err error) {
	if err != nil && n == 0 {
		s.respondServiceError(w, r, op, err)
		return
	}
	resp := batchResponse{Processed: n, Errors: []string{}}
	if err != nil {
		resp.Errors = strings.Split(err.Error(), "\n")
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloseMonth(w http.ResponseWriter, r *http.Request) {
	month, err := pathMonth(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpClose, err)
		return
	}
	n, err := s.svc.Accounting.CloseMonth(r.Context(), month)
	s.respondBatch(w, r, "close_month", n, err)
}

func (s *Server) handleReimburseMonth(w http.ResponseWriter, r *http.Request) {
	month, err := pathMonth(r)
	if err != nil {
		s.respondServiceError(w, r, log.OpReimburse, err)
		return
	}
	n, err := s.svc.Accounting.ReimburseMonth(r.Context(), month)
	s.respondBatch(w, r, "reimburse_month", n, err)
}
