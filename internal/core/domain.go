package core

import (
	"time"
	"unicode/utf8"
)

// Sheet states, in lifecycle order.
const (
	StateCreated    SheetState = "CR"
	StateClosed     SheetState = "CL"
	StateValidated  SheetState = "VA"
	StateReimbursed SheetState = "RB"
)

// Free-form line statuses.
const (
	LineNormal   LineStatus = "NORMAL"
	LineRefused  LineStatus = "REFUSED"
	LineDeferred LineStatus = "DEFERRED"
)

const (
	// MaxLabelLength bounds free-form labels, including the refusal prefix.
	MaxLabelLength = 100
	// RefusedPrefix is prepended to the label of a refused free-form line.
	RefusedPrefix = "REFUSE "
)

type (
	SheetState string
	LineStatus string

	Visitor struct {
		ID           string `json:"id"`
		Login        string `json:"login"`
		PasswordHash string `json:"-"`
		Name         string `json:"name"`
		FirstName    string `json:"first_name"`
	}

	Accountant struct {
		ID           string `json:"id"`
		Login        string `json:"login"`
		PasswordHash string `json:"-"`
		Name         string `json:"name"`
		FirstName    string `json:"first_name"`
	}

	// Sheet is one visitor's expense report for one month.
	Sheet struct {
		VisitorID       string     `json:"visitor_id"`
		Month           MonthKey   `json:"month"`
		State           SheetState `json:"state"`
		StateLabel      string     `json:"state_label"`
		ModifiedAt      time.Time  `json:"modified_at"`
		ReceiptCount    int        `json:"receipt_count"`
		ValidatedAmount Money      `json:"validated_amount"`
		ExportedAt      *time.Time `json:"exported_at,omitempty"`
	}

	FlatRateType struct {
		ID         string `json:"id"`
		Label      string `json:"label"`
		UnitAmount Money  `json:"unit_amount"`
	}

	FlatRateLine struct {
		TypeID     string `json:"type_id"`
		Label      string `json:"label"`
		Quantity   int    `json:"quantity"`
		UnitAmount Money  `json:"unit_amount"`
	}

	// FreeFormLine carries its date in display format.
	FreeFormLine struct {
		ID        int64      `json:"id"`
		VisitorID string     `json:"visitor_id"`
		Month     MonthKey   `json:"month"`
		Label     string     `json:"label"`
		Date      string     `json:"date"`
		Amount    Money      `json:"amount"`
		Status    LineStatus `json:"status"`
	}

	AvailableMonth struct {
		Month       MonthKey `json:"month"`
		Year        int      `json:"year"`
		MonthNumber int      `json:"month_number"`
	}

	// MonthSummary is everything needed to display one sheet.
	MonthSummary struct {
		Sheet        *Sheet         `json:"sheet"`
		FlatRate     []FlatRateLine `json:"flat_rate"`
		FreeForm     []FreeFormLine `json:"free_form"`
		PendingTotal Money          `json:"pending_total"`
	}
)

var transitions = map[SheetState][]SheetState{
	StateCreated:   {StateClosed, StateValidated},
	StateClosed:    {StateValidated},
	StateValidated: {StateReimbursed},
}

// IsValid reports whether s is a known state.
func (s SheetState) IsValid() bool {
	switch s {
	case StateCreated, StateClosed, StateValidated, StateReimbursed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
func (s SheetState) CanTransitionTo(next SheetState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Editable reports whether the visitor may still change the sheet's lines.
func (s SheetState) Editable() bool {
	return s == StateCreated
}

// UnderReview reports whether an accountant may still adjust the sheet
// (refuse or defer lines, fix the receipt count).
func (s SheetState) UnderReview() bool {
	return s == StateCreated || s == StateClosed
}

// Total returns quantity x unit amount.
func (l FlatRateLine) Total() Money {
	return l.UnitAmount.Times(l.Quantity)
}

// Counted reports whether the line contributes to the validated amount.
func (l FreeFormLine) Counted() bool {
	return l.Status != LineRefused
}

// RefusedLabel prefixes label with RefusedPrefix and cuts the result to
// MaxLabelLength characters.
func RefusedLabel(label string) string {
	s := RefusedPrefix + label
	if utf8.RuneCountInString(s) <= MaxLabelLength {
		return s
	}
	return string([]rune(s)[:MaxLabelLength])
}

// ComputeTotal sums flat-rate lines and counted free-form lines.
func ComputeTotal(flat []FlatRateLine, free []FreeFormLine) Money {
	var total Money
	for _, l := range flat {
		total = total.Add(l.Total())
	}
	for _, l := range free {
		if l.Counted() {
			total = total.Add(l.Amount)
		}
	}
	return total
}
