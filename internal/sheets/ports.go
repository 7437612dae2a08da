package sheets

import (
	"context"
	"time"

	"frais/internal/core"
)

// LedgerEntry is one reimbursed sheet as recorded in the accounting ledger.
type LedgerEntry struct {
	Month        core.MonthKey
	VisitorID    string
	VisitorName  string
	Amount       core.Money
	ReceiptCount int
	ReimbursedAt time.Time
}

// Ports for outbound adapters.
type (
	LedgerWriter interface {
		AppendReimbursement(ctx context.Context, e LedgerEntry) (rowRef string, err error)
	}

	// LedgerReader lets the exporter skip entries already present.
	LedgerReader interface {
		HasReimbursement(ctx context.Context, visitorID string, month core.MonthKey) (bool, error)
	}

	Ledger interface {
		LedgerWriter
		LedgerReader
	}
)
