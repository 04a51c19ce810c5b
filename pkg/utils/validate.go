package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sigweihq/t402pay/pkg/types"
)

var validate = validator.New()

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(s)
}

// IsHexString reports whether s is a 0x-prefixed even-length hex string.
func IsHexString(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	body := s[2:]
	if len(body) == 0 || len(body)%2 != 0 {
		return false
	}
	for _, c := range body {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// ValidateRequirements runs struct-tag validation plus the scheme-dependent
// amount rules: exact needs amount, upto needs maxAmount, and every amount
// present must parse as a non-negative integer.
func ValidateRequirements(req *types.PaymentRequirements) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid payment requirements: %w", err)
	}
	switch req.Scheme {
	case types.SchemeUpto:
		if req.MaxAmount == "" {
			return fmt.Errorf("invalid payment requirements: maxAmount required for %s scheme", types.SchemeUpto)
		}
	default:
		if req.Amount == "" {
			return fmt.Errorf("invalid payment requirements: amount required for %s scheme", req.Scheme)
		}
	}
	for _, amt := range []string{req.Amount, req.MaxAmount, req.MinAmount} {
		if amt == "" {
			continue
		}
		if _, err := types.ParseAtomicAmount(amt); err != nil {
			return fmt.Errorf("invalid payment requirements: %w", err)
		}
	}
	return nil
}

// ValidatePayload checks the envelope of an incoming payment payload.
func ValidatePayload(p *types.PaymentPayload) error {
	if p == nil {
		return fmt.Errorf("payment payload is nil")
	}
	if p.T402Version != types.T402Version {
		return fmt.Errorf("unsupported protocol version %d, want %d", p.T402Version, types.T402Version)
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("payment payload has no chain payload")
	}
	return ValidateRequirements(&p.Accepted)
}
