package memory

import (
	"context"
	"fmt"
	"sync"

	"frais/internal/core"
	ports "frais/internal/sheets"
)

// Ledger keeps reimbursement rows in memory. Used when no spreadsheet is
// configured and in tests.
type Ledger struct {
	mu      sync.Mutex
	entries []ports.LedgerEntry
}

var _ ports.Ledger = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{}
}

// AppendReimbursement stores the entry and returns a synthetic row reference.
func (l *Ledger) AppendReimbursement(_ context.Context, e ports.LedgerEntry) (string, error) {
	if _, err := core.ParseMonthKey(string(e.Month)); err != nil {
		return "", fmt.Errorf("ledger entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return fmt.Sprintf("mem:%d", len(l.entries)), nil
}

func (l *Ledger) HasReimbursement(_ context.Context, visitorID string, month core.MonthKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.VisitorID == visitorID && e.Month == month {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns a copy of the stored rows in insertion order.
func (l *Ledger) Entries() []ports.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.LedgerEntry(nil), l.entries...)
}
