// Package http exposes the expense-sheet services as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"frais/internal/cache"
	"frais/internal/core"
	"frais/internal/log"
	"frais/internal/metrics"
	"frais/internal/middleware/ratelimit"
	"frais/internal/middleware/security"
	"frais/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerRequestID  = "X-Request-ID"
	headerVisitor    = "X-Visitor-ID"
	headerAccountant = "X-Accountant-ID"
)

// Services are the operations served by the API. Ready backs /readyz.
type Services struct {
	Sheets     *services.SheetService
	Accounting *services.AccountingService
	Accounts   *services.AccountService
	Ready      func(ctx context.Context) error
}

// Options tune the transport; a zero RateLimitPerMinute disables throttling.
type Options struct {
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	svc      Services
	limiter  *ratelimit.Limiter
	detector *security.Detector
	logger   *log.Logger

	visitors    *cache.LRU[*core.Visitor]
	accountants *cache.LRU[*core.Accountant]

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, svc Services, opts Options) *Server {
	s := &Server{
		svc:      svc,
		detector: security.NewDetector(),
		logger:   log.Default(log.ComponentHTTP),

		visitors:    cache.NewLRU[*core.Visitor](identityCacheSize, identityCacheTTL),
		accountants: cache.NewLRU[*core.Accountant](identityCacheSize, identityCacheTTL),
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}

	var h http.Handler = s.routes()
	if s.limiter != nil {
		h = s.limiter.Middleware(s.detector.ClientIP, isWrite, func(w http.ResponseWriter, r *http.Request) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, s.detector.ClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})(h)
	}
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(h)
	h = log.RequestIDMiddleware(s.logger, func(r *http.Request) string { return r.Header.Get(headerRequestID) })(h)
	h = withRequestID(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(s.observe)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/login/visitor", s.handleLoginVisitor).Methods(http.MethodPost)
	api.HandleFunc("/login/accountant", s.handleLoginAccountant).Methods(http.MethodPost)
	api.HandleFunc("/flat-rate-types", s.handleFlatRateTypes).Methods(http.MethodGet)

	v := api.PathPrefix("/sheets").Subrouter()
	v.Use(s.requireVisitor)
	v.HandleFunc("", s.handleListMonths).Methods(http.MethodGet)
	v.HandleFunc("/current", s.handleOpenMonth).Methods(http.MethodPost)
	v.HandleFunc("/current", s.handleCurrentSummary).Methods(http.MethodGet)
	v.HandleFunc("/current/flat-rate", s.handleUpdateFlatRate).Methods(http.MethodPut)
	v.HandleFunc("/current/receipts", s.handleVisitorReceipts).Methods(http.MethodPut)
	v.HandleFunc("/current/free-form", s.handleAddLine).Methods(http.MethodPost)
	v.HandleFunc("/current/free-form/{id:[0-9]+}", s.handleModifyLine).Methods(http.MethodPut)
	v.HandleFunc("/current/free-form/{id:[0-9]+}", s.handleDeleteLine).Methods(http.MethodDelete)
	v.HandleFunc("/{month:[0-9]{6}}", s.handleVisitorSummary).Methods(http.MethodGet)

	a := api.PathPrefix("/accounting").Subrouter()
	a.Use(s.requireAccountant)
	a.HandleFunc("/visitors", s.handleListVisitors).Methods(http.MethodGet)
	a.HandleFunc("/months/validated", s.handleValidatedMonths).Methods(http.MethodGet)
	a.HandleFunc("/months/{month:[0-9]{6}}/close", s.handleCloseMonth).Methods(http.MethodPost)
	a.HandleFunc("/months/{month:[0-9]{6}}/reimburse", s.handleReimburseMonth).Methods(http.MethodPost)
	a.HandleFunc("/sheets", s.handleSheetsByState).Methods(http.MethodGet)

	sheet := a.PathPrefix("/visitors/{visitor}/sheets/{month:[0-9]{6}}").Subrouter()
	sheet.HandleFunc("", s.handleAccountingSummary).Methods(http.MethodGet)
	sheet.HandleFunc("/receipts", s.handleAccountingReceipts).Methods(http.MethodPut)
	sheet.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	sheet.HandleFunc("/reimburse", s.handleReimburse).Methods(http.MethodPost)
	sheet.HandleFunc("/free-form/{id:[0-9]+}/refuse", s.handleRefuse).Methods(http.MethodPost)
	sheet.HandleFunc("/free-form/{id:[0-9]+}/defer", s.handleDefer).Methods(http.MethodPost)

	return r
}

// Shutdown stops background helpers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// withRequestID keeps a caller supplied request id or assigns a new one, and
// echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// observe logs each request and records it under its route template, or
// "unmatched" when no route applies.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := s.detector.ClientIP(r)
		log.LogHTTPStart(r.Context(), r, clientIP)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequest(r.Method, route, rw.statusCode, elapsed)
		log.LogHTTPEnd(r.Context(), r, rw.statusCode, elapsed.Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Ready(ctx); err != nil {
			s.logger.ErrorContext(r.Context(), "Readiness check failed", log.FieldError, err)
			respondError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
