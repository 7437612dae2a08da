package core

import (
	"errors"
	"testing"
	"time"
)

func TestNextMonthKey(t *testing.T) {
	cases := map[string]string{
		"202312": "202401",
		"202401": "202402",
		"202411": "202412",
	}
	for in, want := range cases {
		got, err := NextMonthKey(in)
		if err != nil || got != want {
			t.Fatalf("NextMonthKey(%s) = %s, %v; want %s", in, got, err, want)
		}
	}
	if MonthKey("202401").Prev() != "202312" {
		t.Fatal("Prev should roll back over the year boundary")
	}
}

func TestParseMonthKey(t *testing.T) {
	for _, ok := range []string{"202401", "199912", " 202406 "} {
		if _, err := ParseMonthKey(ok); err != nil {
			t.Fatalf("%q expected ok, got %v", ok, err)
		}
	}
	for _, bad := range []string{"", "2024", "202413", "202400", "2024-1", "abcdef"} {
		_, err := ParseMonthKey(bad)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("%q expected FormatError, got %v", bad, err)
		}
	}
}

func TestMonthKeyOf(t *testing.T) {
	k := MonthKeyOf(time.Date(2024, time.February, 29, 23, 0, 0, 0, time.UTC))
	if k != "202402" || k.Year() != 2024 || k.MonthNumber() != 2 {
		t.Fatalf("unexpected key %s", k)
	}
	if !MonthKey("202312").Before("202401") {
		t.Fatal("202312 should be before 202401")
	}
}

func TestDateRoundTrip(t *testing.T) {
	for _, d := range []string{"15/01/2024", "29/02/2024", "31/12/1999", "01/01/2000"} {
		storage, err := ToStorageDate(d)
		if err != nil {
			t.Fatalf("%s: %v", d, err)
		}
		back, err := ToDisplayDate(storage)
		if err != nil || back != d {
			t.Fatalf("round trip of %s gave %s (err=%v)", d, back, err)
		}
	}
	if got, _ := ToDisplayDate("2024-01-15"); got != "15/01/2024" {
		t.Fatalf("unexpected display date %s", got)
	}
}

func TestDateFormatErrors(t *testing.T) {
	for _, bad := range []string{"", "2024/01/15", "32/01/2024", "29/02/2023", "15-01-2024"} {
		_, err := ToStorageDate(bad)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("%q expected FormatError, got %v", bad, err)
		}
	}
	if _, err := ToDisplayDate("15/01/2024"); err == nil {
		t.Fatal("display value is not a storage date")
	}
}
