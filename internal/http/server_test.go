package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"frais/internal/core"
	"frais/internal/services"
	"frais/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*Server
	repo *storage.SQLiteRepository
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "frais.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("jux7g"), bcrypt.MinCost)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, repo.CreateVisitor(ctx, core.Visitor{
		ID: "a131", Login: "lvillachane", PasswordHash: string(hash), Name: "Villechalane", FirstName: "Louis",
	}))
	require.NoError(t, repo.CreateAccountant(ctx, core.Accountant{
		ID: "c01", Login: "comptable", PasswordHash: string(hash), Name: "Durand", FirstName: "Claire",
	}))

	now := func() time.Time { return time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC) }
	srv := NewServer(":0", Services{
		Sheets:     services.NewSheetService(repo, services.WithClock(now)),
		Accounting: services.NewAccountingService(repo, services.WithClock(now)),
		Accounts:   services.NewAccountService(repo, services.WithClock(now)),
		Ready:      repo.Ping,
	}, opts)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testServer{Server: srv, repo: repo}
}

type call struct {
	method     string
	path       string
	body       any
	visitor    string
	accountant string
}

func (ts *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if s, ok := c.body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.visitor != "" {
		req.Header.Set(headerVisitor, c.visitor)
	}
	if c.accountant != "" {
		req.Header.Set(headerAccountant, c.accountant)
	}
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = ts.do(t, call{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("database down", func(t *testing.T) {
		ts.svc.Ready = func(context.Context) error { return core.ErrConnectivity }
		rec := ts.do(t, call{method: http.MethodGet, path: "/readyz"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestUnmatchedRoutesDoNotLabelMetrics(t *testing.T) {
	ts := newTestServer(t, Options{})

	for _, path := range []string{"/no-such-page-7c1e", "/api/v1/sheets/no-such-page-7c1e"} {
		rec := ts.do(t, call{method: http.MethodGet, path: path, visitor: "a131"})
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := ts.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "no-such-page-7c1e")
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/login/visitor",
		body: loginRequest{Login: "lvillachane", Password: "jux7g"}})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[loginResponse](t, rec)
	assert.Equal(t, "a131", got.ID)
	assert.Equal(t, "visitor", got.Role)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/login/visitor",
		body: loginRequest{Login: "lvillachane", Password: "wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/login/accountant",
		body: loginRequest{Login: "comptable", Password: "jux7g"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accountant", decode[loginResponse](t, rec).Role)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/login/visitor", body: "{not json"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityRequired(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name string
		c    call
	}{
		{"no visitor header", call{method: http.MethodGet, path: "/api/v1/sheets"}},
		{"unknown visitor", call{method: http.MethodGet, path: "/api/v1/sheets", visitor: "zz99"}},
		{"no accountant header", call{method: http.MethodGet, path: "/api/v1/accounting/visitors"}},
		{"visitor is not an accountant", call{method: http.MethodGet, path: "/api/v1/accounting/visitors", accountant: "a131"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, ts.do(t, tt.c).Code)
		})
	}
}

func TestVisitorFlow(t *testing.T) {
	ts := newTestServer(t, Options{})
	v := "a131"

	rec := ts.do(t, call{method: http.MethodGet, path: "/api/v1/sheets/current", visitor: v})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current", visitor: v})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, core.MonthKey("202401"), decode[core.Sheet](t, rec).Month)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current", visitor: v})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, call{method: http.MethodPut, path: "/api/v1/sheets/current/flat-rate", visitor: v,
		body: `{"quantities": {"REP": 2, "NUI": "1"}}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, call{method: http.MethodPut, path: "/api/v1/sheets/current/flat-rate", visitor: v,
		body: `{"quantities": {"REP": "two"}}`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current/free-form", visitor: v,
		body: `{"date": "15/01/2024", "label": "Taxi", "amount": 42.5}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[core.FreeFormLine](t, rec)
	assert.Equal(t, "42.50", line.Amount.String())

	t.Run("every problem is reported", func(t *testing.T) {
		rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current/free-form", visitor: v,
			body: `{"date": "31/02/2024", "label": "", "amount": "abc"}`})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Len(t, decode[map[string][]string](t, rec)["errors"], 3)
	})

	rec = ts.do(t, call{method: http.MethodPut, path: "/api/v1/sheets/current/receipts", visitor: v,
		body: map[string]int{"count": 3}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/sheets/202401", visitor: v})
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[core.MonthSummary](t, rec)
	assert.Equal(t, 3, summary.Sheet.ReceiptCount)
	require.Len(t, summary.FreeForm, 1)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/sheets/202413", visitor: v})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/sheets", visitor: v})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]core.AvailableMonth](t, rec)["months"], 1)

	rec = ts.do(t, call{method: http.MethodDelete, path: "/api/v1/sheets/current/free-form/" + itoa(line.ID), visitor: v})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, call{method: http.MethodDelete, path: "/api/v1/sheets/current/free-form/" + itoa(line.ID), visitor: v})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountingFlow(t *testing.T) {
	ts := newTestServer(t, Options{})
	v, c := "a131", "c01"

	ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current", visitor: v})
	ts.do(t, call{method: http.MethodPut, path: "/api/v1/sheets/current/flat-rate", visitor: v,
		body: `{"quantities": {"REP": "2"}}`})
	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current/free-form", visitor: v,
		body: `{"date": "15/01/2024", "label": "Taxi", "amount": "42.50"}`})
	taxi := decode[core.FreeFormLine](t, rec)

	base := "/api/v1/accounting/visitors/a131/sheets/202401"

	rec = ts.do(t, call{method: http.MethodPost, path: base + "/free-form/" + itoa(taxi.ID) + "/refuse", accountant: c})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REFUSE Taxi", decode[core.FreeFormLine](t, rec).Label)

	rec = ts.do(t, call{method: http.MethodPost, path: base + "/free-form/" + itoa(taxi.ID) + "/defer", accountant: c})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/accounting/sheets?state=cr", accountant: c})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]core.Sheet](t, rec)["sheets"], 1)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/accounting/sheets?state=XX", accountant: c})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, call{method: http.MethodPost, path: base + "/reimburse", accountant: c})
	assert.Equal(t, http.StatusConflict, rec.Code, "a sheet must be validated first")

	rec = ts.do(t, call{method: http.MethodPost, path: base + "/validate", accountant: c})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sheet := decode[core.Sheet](t, rec)
	assert.Equal(t, core.StateValidated, sheet.State)
	assert.Equal(t, "50.00", sheet.ValidatedAmount.String())

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/accounting/months/validated", accountant: c})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]core.AvailableMonth](t, rec)["months"], 1)

	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/accounting/months/202401/reimburse", accountant: c})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[batchResponse](t, rec).Processed)

	rec = ts.do(t, call{method: http.MethodGet, path: base, accountant: c})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StateReimbursed, decode[core.MonthSummary](t, rec).Sheet.State)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/accounting/visitors/zz99/sheets/202401", accountant: c})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseMonthRejectsCurrentMonth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/accounting/months/202401/close", accountant: "c01"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWritesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitPerMinute: 2})

	codes := make([]int, 0, 4)
	for i := 0; i < 3; i++ {
		rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/sheets/current", visitor: "a131"})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{201, 200, 429}, codes)

	rec := ts.do(t, call{method: http.MethodGet, path: "/api/v1/sheets/current", visitor: "a131"})
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not throttled")
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		err  error
		code int
	}{
		{&core.ValidationError{Problems: []string{"a", "b"}}, http.StatusUnprocessableEntity},
		{&core.FormatError{Value: "x", Layout: "YYYYMM"}, http.StatusUnprocessableEntity},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrConflict, http.StatusConflict},
		{core.ErrConnectivity, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			ts.respondServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), "test", tt.err)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
