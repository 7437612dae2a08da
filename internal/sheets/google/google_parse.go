package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"frais/internal/core"
	ports "frais/internal/sheets"
)

// parseLedger converts a values matrix into entries. The header row and rows
// without a valid month key or visitor are skipped.
func parseLedger(values [][]any) []ports.LedgerEntry {
	var out []ports.LedgerEntry
	for _, raw := range values {
		row := toStrings(raw)
		month, err := core.ParseMonthKey(safeGet(row, 0))
		if err != nil {
			continue
		}
		visitor := safeGet(row, 1)
		if visitor == "" {
			continue
		}
		e := ports.LedgerEntry{
			Month:       month,
			VisitorID:   visitor,
			VisitorName: safeGet(row, 2),
		}
		if amount, err := core.ParseAmount(safeGet(row, 3)); err == nil {
			e.Amount = amount
		}
		if n, err := strconv.Atoi(safeGet(row, 4)); err == nil {
			e.ReceiptCount = n
		}
		if t, err := time.Parse(time.RFC3339, safeGet(row, 5)); err == nil {
			e.ReimbursedAt = t
		}
		out = append(out, e)
	}
	return out
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
