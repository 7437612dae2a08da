package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared by every layer. Callers match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrConnectivity = errors.New("database unreachable")
)

// ValidationError collects every problem found in a piece of user input.
// Nothing is written when one is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Add records a problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Len returns the number of collected problems.
func (e *ValidationError) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Problems)
}

// Err returns e as an error, or nil when nothing was collected.
func (e *ValidationError) Err() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

// FormatError reports a date or month key that does not match its layout.
type FormatError struct {
	Value  string
	Layout string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed value %q: expected %s", e.Value, e.Layout)
}

// IsValidation reports whether err is caused by bad user input.
func IsValidation(err error) bool {
	var ve *ValidationError
	var fe *FormatError
	return errors.As(err, &ve) || errors.As(err, &fe)
}
