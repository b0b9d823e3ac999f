package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingParameters   = errors.New("missing required verification parameters")
	ErrSecurityMismatch    = errors.New("security mismatch: resultIndicator does not match successIndicator")
	ErrVerificationFailed  = errors.New("payment verification failed or order not completed")
	ErrVerificationTimeout = errors.New("payment verification timed out")
	ErrAmountMismatch      = errors.New("verified amount does not match the order amount")

	ErrAttemptNotFound   = errors.New("checkout attempt not found")
	ErrDuplicateOrder    = errors.New("order id already in use")
	ErrInvalidTransition = errors.New("invalid checkout state transition")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidAmount     = errors.New("course has no payable amount")
	ErrRecordNotFound    = errors.New("payment record not found")
)

// ConfigurationError means the gateway credentials are not set up; an operator has to fix it.
type ConfigurationError struct {
	Missing []string // names of the missing settings
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payment gateway configuration missing: %v", e.Missing)
}

// GatewayError is a gateway response that could not be used: a non-2xx status or a malformed body.
type GatewayError struct {
	StatusCode int
	Details    json.RawMessage // raw gateway payload, for support diagnosis
	Reason     string
}

func (e *GatewayError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("gateway error (status %d)", e.StatusCode)
}

// NetworkError wraps a transport failure while talking to the gateway.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
