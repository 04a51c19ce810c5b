// Package types defines the protocol envelope shared by every scheme:
// payment requirements, payment payloads and the verify/settle responses
// exchanged with a facilitator.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// T402Version is the protocol version this engine speaks.
const T402Version = 2

// SchemeExact is the fixed-amount payment scheme.
const SchemeExact = "exact"

// SchemeUpto is the usage-metered payment scheme (settle up to an authorized maximum).
const SchemeUpto = "upto"

// Machine-readable invalid/error reasons. Structural and policy rejections
// always use one of these so callers can build precise diagnostics.
const (
	ReasonInvalidPayloadStructure = "invalid_payload_structure"
	ReasonUnsupportedScheme       = "unsupported_scheme"
	ReasonUnsupportedNetwork      = "unsupported_network"
	ReasonNetworkMismatch         = "network_mismatch"
	ReasonRecipientMismatch       = "recipient_mismatch"
	ReasonAssetMismatch           = "asset_mismatch"
	ReasonAmountMismatch          = "amount_mismatch"
	ReasonAuthorizationExpired    = "authorization_expired"
	ReasonInsufficientBalance     = "insufficient_balance"
	ReasonInvalidSignature        = "invalid_signature"
	ReasonAccountNotActivated     = "account_not_activated"
	ReasonMissingFeePayer         = "missing_fee_payer"
	ReasonFeePayerNotManaged      = "fee_payer_not_managed_by_facilitator"
	ReasonFeePayerTransferring    = "fee_payer_transferring_funds"
	ReasonNonceAlreadyUsed        = "authorization_nonce_already_used"
	ReasonPermitNonceMismatch     = "permit_nonce_mismatch"
	ReasonSimulationFailed        = "transaction_simulation_failed"
	ReasonBroadcastFailed         = "broadcast_failed"
	ReasonConfirmationFailed      = "confirmation_failed"
	ReasonConfirmationTimeout     = "confirmation_timeout"
	ReasonSettleAmountTooHigh     = "settle_amount_exceeds_authorized_max"
	ReasonSettleAmountTooLow      = "settle_amount_below_minimum"
)

// ResourceInfo describes the paid resource a payment unlocks.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements is advertised by a resource server and immutable once
// advertised. Exact payments set Amount; upto payments set MaxAmount and
// optionally MinAmount. Amounts are decimal strings in the asset's smallest
// unit, never floating point.
type PaymentRequirements struct {
	Scheme            string `json:"scheme" validate:"required"`
	Network           string `json:"network" validate:"required"`
	Amount            string `json:"amount,omitempty"`
	MaxAmount         string `json:"maxAmount,omitempty"`
	MinAmount         string `json:"minAmount,omitempty"`
	Asset             string `json:"asset" validate:"required"`
	PayTo             string `json:"payTo" validate:"required"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Extra             Extra  `json:"extra,omitempty"`
}

// AmountValue returns the requirement's binding amount: Amount for exact,
// MaxAmount for upto.
func (r *PaymentRequirements) AmountValue() string {
	if r.Scheme == SchemeUpto {
		return r.MaxAmount
	}
	return r.Amount
}

// Extra carries scheme/chain-specific requirement extensions. Well-known
// fields are typed; unrecognized keys survive a round trip through Additional.
type Extra struct {
	// FeePayer is the facilitator fee-payer address (SVM).
	FeePayer string `json:"feePayer,omitempty"`
	// Name and Version are the EIP-712 domain fields (EVM).
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	// RouterAddress is the settlement router contract (EVM upto).
	RouterAddress string `json:"routerAddress,omitempty"`
	// Unit and UnitPrice describe metered billing (upto).
	Unit      string `json:"unit,omitempty"`
	UnitPrice string `json:"unitPrice,omitempty"`

	// Additional holds unrecognized keys verbatim.
	Additional map[string]any `json:"-"`
}

var extraKnownKeys = map[string]bool{
	"feePayer": true, "name": true, "version": true,
	"routerAddress": true, "unit": true, "unitPrice": true,
}

// MarshalJSON merges Additional back into the serialized object without
// letting it shadow known fields.
func (e Extra) MarshalJSON() ([]byte, error) {
	type alias Extra
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Additional) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Additional {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures unrecognized keys into Additional.
func (e *Extra) UnmarshalJSON(data []byte) error {
	type alias Extra
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Extra(a)

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if !extraKnownKeys[k] {
			if e.Additional == nil {
				e.Additional = make(map[string]any)
			}
			e.Additional[k] = all[k]
		}
	}
	return nil
}

// PaymentPayload is the client-constructed payment envelope. Payload is the
// chain-specific authorization, decoded by the scheme that owns it.
type PaymentPayload struct {
	T402Version int                 `json:"t402Version"`
	Resource    *ResourceInfo       `json:"resource,omitempty"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     json.RawMessage     `json:"payload"`
}

// DecodePayload unmarshals the chain-specific payload into dst.
func (p *PaymentPayload) DecodePayload(dst any) error {
	if len(p.Payload) == 0 {
		return fmt.Errorf("payment payload is empty")
	}
	if err := json.Unmarshal(p.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode chain payload: %w", err)
	}
	return nil
}

// VerifyResponse is the result of verifying a payload against requirements.
// It is a pure function of payload, requirements and current chain state.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Invalid builds a failed VerifyResponse.
func Invalid(reason, payer string) *VerifyResponse {
	return &VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// SettleResponse is the result of a settlement attempt. Success implies an
// on-chain-confirmed state change, never mere broadcast acceptance.
type SettleResponse struct {
	Success       bool   `json:"success"`
	Network       string `json:"network"`
	Transaction   string `json:"transaction,omitempty"`
	ErrorReason   string `json:"errorReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
	SettledAmount string `json:"settledAmount,omitempty"`
}

// SettleFailure builds a failed SettleResponse.
func SettleFailure(reason, network, payer string) *SettleResponse {
	return &SettleResponse{Success: false, Network: network, ErrorReason: reason, Payer: payer}
}

// UsageDetails is the optional audit record attached to an upto settlement.
type UsageDetails struct {
	UnitsConsumed int            `json:"unitsConsumed,omitempty"`
	UnitPrice     string         `json:"unitPrice,omitempty"`
	UnitType      string         `json:"unitType,omitempty"`
	StartTime     int64          `json:"startTime,omitempty"`
	EndTime       int64          `json:"endTime,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ParseAtomicAmount parses a decimal string in smallest units. Negative
// values and non-integers are rejected.
func ParseAtomicAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q: not a base-10 integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	return v, nil
}
