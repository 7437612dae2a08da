package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthKey identifies a calendar month as a six-digit YYYYMM string.
type MonthKey string

const monthKeyLayout = "YYYYMM"

// MonthKeyOf returns the month key of t.
func MonthKeyOf(t time.Time) MonthKey {
	return newMonthKey(t.Year(), int(t.Month()))
}

func newMonthKey(year, month int) MonthKey {
	return MonthKey(fmt.Sprintf("%04d%02d", year, month))
}

// ParseMonthKey validates s as a YYYYMM month key.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return "", &FormatError{Value: s, Layout: monthKeyLayout}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &FormatError{Value: s, Layout: monthKeyLayout}
		}
	}
	m, _ := strconv.Atoi(s[4:])
	if m < 1 || m > 12 {
		return "", &FormatError{Value: s, Layout: monthKeyLayout}
	}
	return MonthKey(s), nil
}

// Year returns the four-digit year, or 0 for a malformed key.
func (k MonthKey) Year() int {
	if len(k) != 6 {
		return 0
	}
	y, _ := strconv.Atoi(string(k[:4]))
	return y
}

// MonthNumber returns the month in 1-12, or 0 for a malformed key.
func (k MonthKey) MonthNumber() int {
	if len(k) != 6 {
		return 0
	}
	m, _ := strconv.Atoi(string(k[4:]))
	return m
}

// Next returns the following month, rolling December into January.
func (k MonthKey) Next() MonthKey {
	y, m := k.Year(), k.MonthNumber()+1
	if m > 12 {
		m = 1
		y++
	}
	return newMonthKey(y, m)
}

// Prev returns the preceding month.
func (k MonthKey) Prev() MonthKey {
	y, m := k.Year(), k.MonthNumber()-1
	if m < 1 {
		m = 12
		y--
	}
	return newMonthKey(y, m)
}

// Before reports whether k is strictly earlier than other.
func (k MonthKey) Before(other MonthKey) bool {
	return k < other
}

func (k MonthKey) String() string {
	return string(k)
}

// NextMonthKey parses s and returns the key of the following month.
func NextMonthKey(s string) (string, error) {
	k, err := ParseMonthKey(s)
	if err != nil {
		return "", err
	}
	return k.Next().String(), nil
}
