package memory

import (
	"context"
	"sync"
	"testing"

	"frais/internal/core"
	ports "frais/internal/sheets"
)

func TestLedgerAppendAndFind(t *testing.T) {
	l := New()
	ctx := context.Background()

	ref, err := l.AppendReimbursement(ctx, ports.LedgerEntry{Month: "202401", VisitorID: "a131", Amount: core.Money{Cents: 7250}})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	found, err := l.HasReimbursement(ctx, "a131", "202401")
	if err != nil || !found {
		t.Errorf("expected entry to be found, err=%v", err)
	}
	found, _ = l.HasReimbursement(ctx, "a131", "202402")
	if found {
		t.Error("other month should not match")
	}

	if _, err := l.AppendReimbursement(ctx, ports.LedgerEntry{Month: "january"}); err == nil {
		t.Error("expected error for malformed month")
	}
	if len(l.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(l.Entries()))
	}
}

func TestLedgerConcurrentAppends(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AppendReimbursement(context.Background(), ports.LedgerEntry{Month: "202401", VisitorID: "a131"})
		}()
	}
	wg.Wait()

	if got := len(l.Entries()); got != 20 {
		t.Errorf("entries = %d, want 20", got)
	}
}
