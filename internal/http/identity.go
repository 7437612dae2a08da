package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"frais/internal/core"
	"frais/internal/log"
)

type ctxKey int

const (
	visitorKey ctxKey = iota
	accountantKey
)

// Resolved identities are cached briefly; accounts are never deleted.
const (
	identityCacheSize = 1024
	identityCacheTTL  = time.Minute
)

// requireVisitor resolves the X-Visitor-ID header to a known visitor.
func (s *Server) requireVisitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerVisitor))
		if id == "" {
			respondError(w, http.StatusUnauthorized, "missing visitor identity")
			return
		}
		v, ok := s.visitors.Get(id)
		if !ok {
			var err error
			v, err = s.svc.Accounts.GetVisitor(r.Context(), id)
			if errors.Is(err, core.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "unknown visitor")
				return
			}
			if err != nil {
				s.respondServiceError(w, r, "resolve_visitor", err)
				return
			}
			s.visitors.Set(id, v)
		}
		ctx := context.WithValue(r.Context(), visitorKey, v)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldVisitorID, v.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAccountant resolves the X-Accountant-ID header to a known accountant.
func (s *Server) requireAccountant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerAccountant))
		if id == "" {
			respondError(w, http.StatusUnauthorized, "missing accountant identity")
			return
		}
		a, ok := s.accountants.Get(id)
		if !ok {
			var err error
			a, err = s.svc.Accounts.GetAccountant(r.Context(), id)
			if errors.Is(err, core.ErrNotFound) {
				respondError(w, http.StatusUnauthorized, "unknown accountant")
				return
			}
			if err != nil {
				s.respondServiceError(w, r, "resolve_accountant", err)
				return
			}
			s.accountants.Set(id, a)
		}
		ctx := context.WithValue(r.Context(), accountantKey, a)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldAccountant, a.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func visitorFrom(ctx context.Context) *core.Visitor {
	v, _ := ctx.Value(visitorKey).(*core.Visitor)
	return v
}
