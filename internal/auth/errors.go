package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidToken    = errors.New("invalid token")
	ErrNoPendingLogin  = errors.New("no pending login for this user, request a new code")
	ErrInvalidOTP      = errors.New("invalid otp code")
	ErrTooManyAttempts = errors.New("too many failed attempts, request a new code")
	ErrResendTooSoon   = errors.New("a code was sent recently")
)

// CooldownError reports how long to wait before another code can be sent.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrResendTooSoon, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrResendTooSoon }

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Fields)
}
