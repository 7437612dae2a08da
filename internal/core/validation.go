package core

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FreeFormInput is a free-form line as submitted by a visitor.
type FreeFormInput struct {
	Date   string `json:"date"`
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

// FreeFormDraft is a validated FreeFormInput; Date is in storage format.
type FreeFormDraft struct {
	Date   string
	Label  string
	Amount Money
}

// Validate checks every field independently and reports all problems at
// once. Expense dates may not be in the future nor older than one year.
func (in FreeFormInput) Validate(now time.Time) (FreeFormDraft, error) {
	var ve ValidationError
	var draft FreeFormDraft

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch date := strings.TrimSpace(in.Date); {
	case date == "":
		ve.Add("date is required")
	default:
		t, err := ParseDisplayDate(date)
		switch {
		case err != nil:
			ve.Add("date %q must be formatted DD/MM/YYYY", date)
		case t.After(today):
			ve.Add("date %s is in the future", date)
		case t.Before(today.AddDate(-1, 0, 0)):
			ve.Add("date %s is more than one year old", date)
		default:
			draft.Date = t.Format(StorageDateLayout)
		}
	}

	label := strings.TrimSpace(in.Label)
	switch {
	case label == "":
		ve.Add("label is required")
	case utf8.RuneCountInString(label) > MaxLabelLength:
		ve.Add("label is longer than %d characters", MaxLabelLength)
	default:
		draft.Label = label
	}

	if amount := strings.TrimSpace(in.Amount); amount == "" {
		ve.Add("amount is required")
	} else if m, err := ParseAmount(amount); err != nil {
		ve.Add("amount %q must be a non-negative number", amount)
	} else {
		draft.Amount = m
	}

	if err := ve.Err(); err != nil {
		return FreeFormDraft{}, err
	}
	return draft, nil
}

// MaxQuantity caps one flat-rate quantity.
const MaxQuantity = 1_000_000

// ValidateQuantities parses a batch of flat-rate quantities keyed by type
// id. The batch is rejected on the first entry that is not an integer in
// [0, MaxQuantity] or that names an unknown type; entries are checked in
// key order.
func ValidateQuantities(raw map[string]string, catalog []FlatRateType) (map[string]int, error) {
	known := make(map[string]struct{}, len(catalog))
	for _, ft := range catalog {
		known[ft.ID] = struct{}{}
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]int, len(raw))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, &ValidationError{Problems: []string{"unknown flat-rate type " + strconv.Quote(id)}}
		}
		v := strings.TrimSpace(raw[id])
		q, err := strconv.Atoi(v)
		if err != nil || q < 0 {
			return nil, &ValidationError{Problems: []string{"quantity for " + id + " must be a non-negative integer"}}
		}
		if q > MaxQuantity {
			return nil, &ValidationError{Problems: []string{"quantity for " + id + " must not exceed " + strconv.Itoa(MaxQuantity)}}
		}
		out[id] = q
	}
	return out, nil
}

// ValidateReceiptCount rejects negative receipt counts.
func ValidateReceiptCount(n int) error {
	if n < 0 {
		return &ValidationError{Problems: []string{"receipt count must be a non-negative integer"}}
	}
	return nil
}
