package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/services"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// respondServiceError maps service errors onto status codes. Input problems
// are listed under "errors" so clients can show all of them at once.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *core.ValidationError
	var fe *core.FormatError
	switch {
	case errors.As(err, &ve):
		rejected(r, op, log.ErrorTypeValidation, err)
		respondJSON(w, http.StatusUnprocessableEntity, map[string][]string{"errors": ve.Problems})
	case errors.As(err, &fe):
		rejected(r, op, log.ErrorTypeValidation, err)
		respondJSON(w, http.StatusUnprocessableEntity, map[string][]string{"errors": {fe.Error()}})
	case errors.Is(err, services.ErrInvalidCredentials):
		rejected(r, op, log.ErrorTypeAuth, err)
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, core.ErrNotFound):
		rejected(r, op, log.ErrorTypeNotFound, err)
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrConflict):
		rejected(r, op, log.ErrorTypeConflict, err)
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrConnectivity):
		log.LogError(r.Context(), "Database unreachable", err, log.ComponentHTTP, op,
			log.NewFields().WithErrorType(log.ErrorTypeDatabase))
		respondError(w, http.StatusServiceUnavailable, "database unreachable")
	default:
		log.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op,
			log.NewFields().WithErrorType(log.ErrorTypeInternal))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// rejected records a client error at debug level; the status is logged by observe.
func rejected(r *http.Request, op, errorType string, err error) {
	fields := log.NewFields().WithOperation(op).WithErrorType(errorType).WithError(err)
	log.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected", fields.ToSlice()...)
}

// decodeJSON reads a bounded JSON body into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// rawText turns a JSON string or bare literal into the text a visitor typed,
// so "3" and 3 are both accepted and validated the same way.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func pathMonth(r *http.Request) (core.MonthKey, error) {
	return core.ParseMonthKey(mux.Vars(r)["month"])
}

func pathLineID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.FormatError{Value: mux.Vars(r)["id"], Layout: "positive integer"}
	}
	return id, nil
}

// orEmpty keeps list responses as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
