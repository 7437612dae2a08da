package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSheetStateTransitions(t *testing.T) {
	cases := []struct {
		from, to SheetState
		ok       bool
	}{
		{StateCreated, StateClosed, true},
		{StateCreated, StateValidated, true},
		{StateClosed, StateValidated, true},
		{StateValidated, StateReimbursed, true},
		{StateClosed, StateCreated, false},
		{StateValidated, StateClosed, false},
		{StateReimbursed, StateValidated, false},
		{StateCreated, StateReimbursed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
	if !StateCreated.Editable() || StateClosed.Editable() {
		t.Fatal("only created sheets are editable")
	}
	if !StateClosed.UnderReview() || StateValidated.UnderReview() {
		t.Fatal("created and closed sheets are under review, validated ones are not")
	}
}

func TestRefusedLabel(t *testing.T) {
	if got := RefusedLabel("Taxi"); got != "REFUSE Taxi" {
		t.Fatalf("unexpected label %q", got)
	}
	long := strings.Repeat("é", 98)
	got := RefusedLabel(long)
	if n := len([]rune(got)); n != MaxLabelLength {
		t.Fatalf("expected %d runes, got %d", MaxLabelLength, n)
	}
	if !strings.HasPrefix(got, RefusedPrefix) {
		t.Fatalf("prefix lost: %q", got)
	}
}

func TestComputeTotal(t *testing.T) {
	flat := []FlatRateLine{
		{TypeID: "ETP", Quantity: 3, UnitAmount: Money{Cents: 1000}},
		{TypeID: "KM", Quantity: 0, UnitAmount: Money{Cents: 62}},
	}
	free := []FreeFormLine{
		{Label: "Taxi", Amount: Money{Cents: 4250}, Status: LineNormal},
		{Label: "REFUSE Hotel", Amount: Money{Cents: 9000}, Status: LineRefused},
		{Label: "Train", Amount: Money{Cents: 1500}, Status: LineDeferred},
	}
	if got := ComputeTotal(flat, free); got.Cents != 3000+4250+1500 {
		t.Fatalf("unexpected total %s", got)
	}
	if got := ComputeTotal(nil, nil); got.Cents != 0 {
		t.Fatalf("empty sheet should total 0, got %s", got)
	}
}

func TestFreeFormInputValidate(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)

	draft, err := FreeFormInput{Date: "15/01/2024", Label: " Taxi ", Amount: "42.50"}.Validate(now)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if draft.Date != "2024-01-15" || draft.Label != "Taxi" || draft.Amount.Cents != 4250 {
		t.Fatalf("unexpected draft %+v", draft)
	}

	_, err = FreeFormInput{Date: "31/02/2024", Label: "", Amount: "abc"}.Validate(now)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Len() != 3 {
		t.Fatalf("expected 3 problems collected, got %v", ve.Problems)
	}

	bads := []FreeFormInput{
		{Date: "21/01/2024", Label: "x", Amount: "1"}, // future
		{Date: "19/01/2023", Label: "x", Amount: "1"}, // older than one year
		{Date: "2024-01-15", Label: "x", Amount: "1"}, // storage layout
		{Date: "15/01/2024", Label: strings.Repeat("a", 101), Amount: "1"},
		{Date: "15/01/2024", Label: "x", Amount: "-3"},
	}
	for i, in := range bads {
		if _, err := in.Validate(now); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestValidateQuantities(t *testing.T) {
	catalog := []FlatRateType{{ID: "ETP"}, {ID: "KM"}, {ID: "NUI"}, {ID: "REP"}}

	got, err := ValidateQuantities(map[string]string{"ETP": "3", "KM": " 120 ", "NUI": "0", "REP": "1000000"}, catalog)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if got["ETP"] != 3 || got["KM"] != 120 || got["NUI"] != 0 || got["REP"] != MaxQuantity {
		t.Fatalf("unexpected quantities %v", got)
	}

	bads := []map[string]string{
		{"ETP": "3", "KM": "abc"},
		{"ETP": "-1"},
		{"ETP": "1.5"},
		{"XXX": "1"},
		{"ETP": "1000001"},
		{"ETP": "9223372036854775807"},
	}
	for i, raw := range bads {
		got, err := ValidateQuantities(raw, catalog)
		if err == nil || got != nil {
			t.Fatalf("case %d expected the whole batch to be rejected", i)
		}
		if !IsValidation(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}
