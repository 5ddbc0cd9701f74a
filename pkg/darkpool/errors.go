package darkpool

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowExpired is returned when acting on a flow whose quote TTL has elapsed.
	ErrFlowExpired = errors.New("match flow expired")
	// ErrInvalidTransition is returned for a state change the flow does not allow.
	ErrInvalidTransition = errors.New("invalid match flow transition")
)

// AuthError reports unusable credentials. It never carries the secret.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError is a network or HTTP failure talking to the relayer.
// Status is zero when no response was received.
type TransportError struct {
	Method string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s %s: relayer returned %d: %s", e.Method, e.Path, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: relayer returned %d", e.Method, e.Path, e.Status)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Check names one validation rule applied to a quote or bundle.
type Check string

const (
	CheckMintPair        Check = "mint_pair"
	CheckSide            Check = "side"
	CheckPositiveAmounts Check = "positive_amounts"
	CheckPrice           Check = "price"
	CheckFees            Check = "fees"
	CheckMinFillSize     Check = "min_fill_size"
	CheckWorstCasePrice  Check = "worst_case_price"
	CheckSettlementTx    Check = "settlement_tx"
)

// ValidationError is returned when a quote or bundle fails a check.
type ValidationError struct {
	Check  Check
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Check, e.Detail)
}

func invalid(check Check, format string, args ...any) *ValidationError {
	return &ValidationError{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// InvalidOrderError is returned when an order cannot be built or updated.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "invalid order: " + e.Reason
}

// IsAuth reports whether err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err wraps a *ValidationError and returns its check.
func IsValidation(err error) (Check, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Check, true
	}
	return "", false
}
