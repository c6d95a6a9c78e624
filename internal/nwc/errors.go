package nwc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDescriptor reports an unusable wallet-connect URI
var ErrMalformedDescriptor = errors.New("malformed wallet connect descriptor")

// ErrNotConnected is returned for wallet operations before Connect succeeds
var ErrNotConnected = errors.New("not connected to wallet")

// ErrConnectionClosed settles pending requests when the client shuts down
var ErrConnectionClosed = errors.New("wallet connection closed")

// TimeoutError reports which stage of a wallet request timed out:
// "publish" (relay never acknowledged the request event) or "reply"
// (the wallet never responded).
type TimeoutError struct {
	Stage  string
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wallet %s request timed out at %s stage", e.Method, e.Stage)
}

// DecryptionError reports a wallet response whose content could not be
// decrypted with the negotiated scheme
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("wallet response decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// ResponseError is a structured NIP-47 error returned by the wallet
type ResponseError struct {
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
}

// UnsupportedCapabilityError reports a request for a method the wallet did
// not advertise. It is returned before any network traffic is generated.
type UnsupportedCapabilityError struct {
	Method    string
	Available []string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("wallet does not support %s (available: %s)",
		e.Method, strings.Join(e.Available, " "))
}

// Standard NIP-47 error codes
const (
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeNotImplemented      = "NOT_IMPLEMENTED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeRestricted          = "RESTRICTED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL"
	ErrCodeOther               = "OTHER"
	ErrCodePaymentFailed       = "PAYMENT_FAILED"
	ErrCodeNotFound            = "NOT_FOUND"
)
