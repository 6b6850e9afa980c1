// Package validate checks user-entered fields before anything is sent to the
// backend. Each field has its own function returning a Result.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// PhoneDigits is the length of a local phone number
	PhoneDigits = 10

	// OTPDigits is the length of a one-time code
	OTPDigits = 6

	// MinNameLength is the shortest accepted display name
	MinNameLength = 3
)

const (
	ReasonPhone      = "Enter a valid 10-digit phone number"
	ReasonName       = "Username must be at least 3 characters."
	ReasonIncomplete = "Please enter complete OTP"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// Result is the outcome of validating one field
type Result struct {
	Field  string
	Reason string
}

// Valid reports whether the field passed
func (r Result) Valid() bool {
	return r.Reason == ""
}

// Err converts a failed Result into an *Error, nil when valid
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &Error{Field: r.Field, Reason: r.Reason}
}

// Error is returned when a field fails validation. No request is sent for
// input that produced an Error.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PhoneNumber accepts exactly ten ASCII digits
func PhoneNumber(phone string) Result {
	if !phonePattern.MatchString(phone) {
		return Result{Field: "phoneNumber", Reason: ReasonPhone}
	}
	return Result{Field: "phoneNumber"}
}

// Name accepts a display name of at least three characters after trimming
func Name(name string) Result {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < MinNameLength {
		return Result{Field: "name", Reason: ReasonName}
	}
	return Result{Field: "name"}
}

// OTPCode accepts exactly six ASCII digits
func OTPCode(code string) Result {
	if !otpPattern.MatchString(code) {
		return Result{Field: "otp", Reason: ReasonIncomplete}
	}
	return Result{Field: "otp"}
}

// All returns the first failing result as an error
func All(results ...Result) error {
	for _, r := range results {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}

// MaskPhone hides all but the last four digits for logging
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
