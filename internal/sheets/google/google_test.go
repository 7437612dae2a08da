package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"frais/internal/core"
	ports "frais/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// fakeSheets emulates the values endpoints of one spreadsheet tab.
type fakeSheets struct {
	mu   sync.Mutex
	rows [][]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows = append(f.rows, vr.Values...)
		json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sid",
			"updates": map[string]any{
				"updatedRange": fmt.Sprintf("Remboursements!A%d:F%d", len(f.rows), len(f.rows)),
				"updatedRows":  len(vr.Values),
			},
		})
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.rows = append(vr.Values, f.rows...)
		json.NewEncoder(w).Encode(map[string]any{"updatedRows": 1})
	case r.Method == http.MethodGet:
		rows := f.rows
		if strings.Contains(r.URL.Path, "A1:F1") && len(rows) > 1 {
			rows = rows[:1]
		}
		json.NewEncoder(w).Encode(map[string]any{"range": "Remboursements!A:F", "values": rows})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "sid", "Remboursements",
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestClient_AppendAndFind(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	entry := ports.LedgerEntry{
		Month:        "202401",
		VisitorID:    "a131",
		VisitorName:  "Villechalane Louis",
		Amount:       core.Money{Cents: 7250},
		ReceiptCount: 3,
		ReimbursedAt: time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC),
	}

	found, err := c.HasReimbursement(ctx, "a131", "202401")
	if err != nil {
		t.Fatalf("HasReimbursement() error = %v", err)
	}
	if found {
		t.Fatal("empty ledger should not contain the entry")
	}

	ref, err := c.AppendReimbursement(ctx, entry)
	if err != nil {
		t.Fatalf("AppendReimbursement() error = %v", err)
	}
	if ref != "Remboursements!A1:F1" {
		t.Errorf("ref = %q", ref)
	}

	found, err = c.HasReimbursement(ctx, "a131", "202401")
	if err != nil {
		t.Fatalf("HasReimbursement() error = %v", err)
	}
	if !found {
		t.Error("appended entry should be found")
	}

	entries, err := c.ListReimbursements(ctx)
	if err != nil {
		t.Fatalf("ListReimbursements() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Amount.Cents != 7250 || entries[0].ReceiptCount != 3 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestClient_EnsureHeader(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	if err := c.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("EnsureHeader() error = %v", err)
	}
	if err := c.EnsureHeader(context.Background()); err != nil {
		t.Fatalf("second EnsureHeader() error = %v", err)
	}
	if len(fake.rows) != 1 || fake.rows[0][0] != "Mois" {
		t.Errorf("expected a single header row, got %v", fake.rows)
	}
}

func TestClient_AppendRejectsBadMonth(t *testing.T) {
	c := newTestClient(t, &fakeSheets{})
	_, err := c.AppendReimbursement(context.Background(), ports.LedgerEntry{Month: "2024-01", VisitorID: "a131"})
	if err == nil {
		t.Fatal("expected error for malformed month")
	}
}

func TestClient_Uninitialized(t *testing.T) {
	c := &Client{spreadsheetID: "sid", sheetName: "Remboursements"}
	if _, err := c.AppendReimbursement(context.Background(), ports.LedgerEntry{Month: "202401"}); err == nil {
		t.Error("expected error without service")
	}
	if _, err := c.HasReimbursement(context.Background(), "a131", "202401"); err == nil {
		t.Error("expected error without service")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(context.Background(), "", "Remboursements", goption.WithoutAuthentication()); err == nil {
		t.Error("expected error for missing spreadsheet id")
	}
	if _, err := New(context.Background(), "sid", " ", goption.WithoutAuthentication()); err == nil {
		t.Error("expected error for missing sheet name")
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if got, err := loadCredentials(`{"type":"service_account"}`, "/ignored"); err != nil || !strings.Contains(string(got), "service_account") {
		t.Errorf("inline JSON should win: %q, %v", got, err)
	}
	if _, err := loadCredentials("", ""); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := loadCredentials("", "/does/not/exist.json"); err == nil {
		t.Error("expected error for missing file")
	}
}
