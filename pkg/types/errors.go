package types

import "fmt"

// VerifyError wraps a chain fault encountered during verification. Policy and
// structural rejections never use it; they come back as an invalid
// VerifyResponse instead.
type VerifyError struct {
	Reason  string
	Payer   string
	Network string
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify failed on %s: %s: %v", e.Network, e.Reason, e.Err)
	}
	return fmt.Sprintf("verify failed on %s: %s", e.Network, e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError creates a VerifyError for a chain fault.
func NewVerifyError(reason, payer, network string, err error) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Network: network, Err: err}
}

// SettleError wraps a chain fault encountered during settlement.
type SettleError struct {
	Reason      string
	Payer       string
	Network     string
	Transaction string
	Err         error
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settle failed on %s: %s: %v", e.Network, e.Reason, e.Err)
	}
	return fmt.Sprintf("settle failed on %s: %s", e.Network, e.Reason)
}

func (e *SettleError) Unwrap() error { return e.Err }

// NewSettleError creates a SettleError for a chain fault.
func NewSettleError(reason, payer, network, transaction string, err error) *SettleError {
	return &SettleError{Reason: reason, Payer: payer, Network: network, Transaction: transaction, Err: err}
}
