package core

import (
	"strings"
	"time"
)

// Storage dates are ISO (YYYY-MM-DD); dates shown to users are DD/MM/YYYY.
const (
	StorageDateLayout = "2006-01-02"
	DisplayDateLayout = "02/01/2006"
)

// ParseDisplayDate parses a DD/MM/YYYY date, rejecting impossible calendar days.
func ParseDisplayDate(s string) (time.Time, error) {
	t, err := time.Parse(DisplayDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &FormatError{Value: s, Layout: "DD/MM/YYYY"}
	}
	return t, nil
}

// ParseStorageDate parses a YYYY-MM-DD date.
func ParseStorageDate(s string) (time.Time, error) {
	t, err := time.Parse(StorageDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &FormatError{Value: s, Layout: "YYYY-MM-DD"}
	}
	return t, nil
}

// ToDisplayDate converts a storage date to display format.
func ToDisplayDate(storage string) (string, error) {
	t, err := ParseStorageDate(storage)
	if err != nil {
		return "", err
	}
	return t.Format(DisplayDateLayout), nil
}

// ToStorageDate converts a display date to storage format.
func ToStorageDate(display string) (string, error) {
	t, err := ParseDisplayDate(display)
	if err != nil {
		return "", err
	}
	return t.Format(StorageDateLayout), nil
}
