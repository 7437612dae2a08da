package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"frais/internal/core"
	ports "frais/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ledger columns, in order.
var header = []any{"Mois", "Visiteur", "Nom", "Montant", "Justificatifs", "Remboursé le"}

// Client appends reimbursed sheets to one tab of a spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ ports.Ledger = (*Client)(nil)

// New builds a client over an already configured Sheets API. opts are passed
// to gsheet.NewService.
func New(ctx context.Context, spreadsheetID, sheetName string, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		return nil, errors.New("missing sheet name")
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// NewWithServiceAccount authenticates with a service account key, given inline
// or as a file path. Inline JSON wins when both are set.
func NewWithServiceAccount(ctx context.Context, spreadsheetID, sheetName, keyJSON, keyFile string) (*Client, error) {
	creds, err := loadCredentials(keyJSON, keyFile)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Creating Google Sheets ledger client",
		"spreadsheet_id", spreadsheetID,
		"sheet", sheetName,
		"credentials_size", len(creds))

	return New(ctx, spreadsheetID, sheetName,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

func loadCredentials(keyJSON, keyFile string) ([]byte, error) {
	keyJSON = strings.TrimSpace(keyJSON)
	keyFile = strings.TrimSpace(keyFile)
	if keyJSON == "" && keyFile == "" {
		keyFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case keyJSON != "":
		return []byte(keyJSON), nil
	case keyFile != "":
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) columns() string {
	return fmt.Sprintf("%s!A:F", c.sheetName)
}

// AppendReimbursement adds one row after the last non-empty row and returns
// the updated range.
func (c *Client) AppendReimbursement(ctx context.Context, e ports.LedgerEntry) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if _, err := core.ParseMonthKey(string(e.Month)); err != nil {
		return "", fmt.Errorf("ledger entry: %w", err)
	}

	vr := &gsheet.ValueRange{Values: [][]any{entryRow(e)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.columns(), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}

	ref := c.columns()
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Reimbursement appended to ledger",
		"visitor_id", e.VisitorID,
		"month", e.Month,
		"ledger_ref", ref)
	return ref, nil
}

// HasReimbursement scans the month and visitor columns.
func (c *Client) HasReimbursement(ctx context.Context, visitorID string, month core.MonthKey) (bool, error) {
	entries, err := c.ListReimbursements(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.VisitorID == visitorID && e.Month == month {
			return true, nil
		}
	}
	return false, nil
}

// ListReimbursements reads back every parsable ledger row.
func (c *Client) ListReimbursements(ctx context.Context) ([]ports.LedgerEntry, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.columns()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.columns(), err)
	}
	return parseLedger(resp.Values), nil
}

// EnsureHeader writes the column titles when the tab is empty.
func (c *Client) EnsureHeader(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A1:F1", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func entryRow(e ports.LedgerEntry) []any {
	return []any{
		string(e.Month),
		e.VisitorID,
		e.VisitorName,
		e.Amount.Decimal().InexactFloat64(),
		e.ReceiptCount,
		e.ReimbursedAt.UTC().Format(time.RFC3339),
	}
}
