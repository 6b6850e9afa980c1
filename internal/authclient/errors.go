package authclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/agrosense/internal/validate"
)

// User-facing messages for failures the backend did not explain
const (
	MsgNetwork     = "Could not reach the server. Check your connection."
	MsgSignup      = "Sign up failed. Try again."
	MsgSendOTP     = "Could not send code. Try again."
	MsgVerify      = "Verification failed. Try again."
	MsgProfile     = "Could not load your profile. Try again."
	MsgRateLimited = "Too many attempts. Try again later."
	MsgUnknown     = "Could not process request. Try again."
)

// Operation names used in errors and logs
const (
	OpSignup  = "signup"
	OpSendOTP = "send-otp"
	OpVerify  = "verify"
	OpProfile = "profile"
)

func fallbackMessage(op string) string {
	switch op {
	case OpSignup:
		return MsgSignup
	case OpSendOTP:
		return MsgSendOTP
	case OpVerify:
		return MsgVerify
	case OpProfile:
		return MsgProfile
	default:
		return MsgUnknown
	}
}

// NetworkError means the request never produced a usable response: DNS,
// connection, timeout or an unreadable body
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DomainError means the backend answered and refused the request
type DomainError struct {
	Op         string
	StatusCode int
	// Message is the backend's reason, or a fallback for the operation
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s rejected (status %d): %s", e.Op, e.StatusCode, e.Message)
}

func newDomainError(op string, status int, message string) *DomainError {
	if message == "" {
		if status == http.StatusTooManyRequests {
			message = MsgRateLimited
		} else {
			message = fallbackMessage(op)
		}
	}
	return &DomainError{Op: op, StatusCode: status, Message: message}
}

// IsUnauthorized reports whether the backend no longer accepts the credential
func IsUnauthorized(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr) && derr.StatusCode == http.StatusUnauthorized
}

// UserMessage renders any error from this package as an inline message
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *validate.Error
	if errors.As(err, &verr) {
		return verr.Reason
	}

	var nerr *NetworkError
	if errors.As(err, &nerr) {
		return MsgNetwork
	}

	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}

	return MsgUnknown
}
