// Package schemes defines the facilitator-side scheme capability interface
// and the registry that routes (scheme, network) pairs to implementations.
package schemes

import (
	"context"

	"github.com/sigweihq/t402pay/pkg/types"
)

// FacilitatorScheme is one payment scheme bound to one chain family. A single
// instance may serve many networks of its family; the registry decides which
// networks reach it.
type FacilitatorScheme interface {
	// Scheme returns the scheme identifier ("exact", "upto").
	Scheme() string

	// CaipFamily returns the CAIP-2 family prefix this scheme serves
	// ("eip155", "solana", "ton", "tron").
	CaipFamily() string

	// GetExtra returns scheme-specific data to advertise for a network in
	// payment requirements (fee payer, EIP-712 domain, router address).
	// Returns nil when the scheme has nothing to advertise.
	GetExtra(network string) map[string]any

	// GetSigners returns the facilitator-managed signer addresses for a
	// network.
	GetSigners(network string) []string

	// Verify checks a payment payload against requirements and current chain
	// state. Policy and structural rejections come back as an invalid
	// response; only chain faults return an error.
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error)

	// Settle executes the payment on-chain and waits for confirmation.
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error)
}

// MeteredFacilitatorScheme is a scheme that settles a caller-chosen amount
// up to the authorized maximum.
type MeteredFacilitatorScheme interface {
	FacilitatorScheme

	// SettleAmount settles exactly settleAmount (smallest units). A zero
	// amount still executes on-chain so the authorization is consumed.
	SettleAmount(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements, settleAmount string, usage *types.UsageDetails) (*types.SettleResponse, error)
}

// Kind is one advertised (scheme, network) capability.
type Kind struct {
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	Extra   map[string]any `json:"extra,omitempty"`
}
