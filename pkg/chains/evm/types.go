package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigweihq/t402pay/pkg/utils"
)

// ExactPayload is the wire form of an exact EVM payment: a signed EIP-3009
// TransferWithAuthorization.
type ExactPayload struct {
	Signature     string             `json:"signature"`
	Authorization ExactAuthorization `json:"authorization"`
}

// ExactAuthorization mirrors the EIP-3009 message fields as decimal/hex
// strings.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ToAuthorization parses the wire form into typed EIP-3009 fields.
func (a *ExactAuthorization) ToAuthorization() (*Authorization, error) {
	if !utils.IsHexAddress(a.From) {
		return nil, fmt.Errorf("invalid from address %q", a.From)
	}
	if !utils.IsHexAddress(a.To) {
		return nil, fmt.Errorf("invalid to address %q", a.To)
	}
	value, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", a.Value)
	}
	validAfter, ok := new(big.Int).SetString(a.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", a.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(a.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", a.ValidBefore)
	}
	nonceHex := strings.TrimPrefix(a.Nonce, "0x")
	if len(nonceHex) != 64 {
		return nil, fmt.Errorf("invalid nonce %q: want 32 bytes", a.Nonce)
	}
	var nonce [32]byte
	copy(nonce[:], common.FromHex(a.Nonce))

	return &Authorization{
		From:        common.HexToAddress(a.From),
		To:          common.HexToAddress(a.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

// UptoPayload is the wire form of an upto EVM payment: a signed EIP-2612
// permit naming the settlement router as spender.
type UptoPayload struct {
	Signature     PermitSignature     `json:"signature"`
	Authorization PermitAuthorization `json:"authorization"`
	PaymentNonce  string              `json:"paymentNonce"`
}

// PermitSignature holds the split permit signature.
type PermitSignature struct {
	V int    `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// PermitAuthorization mirrors the EIP-2612 message fields.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline string `json:"deadline"`
	Nonce    int    `json:"nonce"`
}

// ToPermit parses the wire form into typed EIP-2612 fields.
func (a *PermitAuthorization) ToPermit() (*Permit, error) {
	if !utils.IsHexAddress(a.Owner) {
		return nil, fmt.Errorf("invalid owner address %q", a.Owner)
	}
	if !utils.IsHexAddress(a.Spender) {
		return nil, fmt.Errorf("invalid spender address %q", a.Spender)
	}
	value, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", a.Value)
	}
	deadline, ok := new(big.Int).SetString(a.Deadline, 10)
	if !ok {
		return nil, fmt.Errorf("invalid deadline %q", a.Deadline)
	}
	if a.Nonce < 0 {
		return nil, fmt.Errorf("invalid nonce %d", a.Nonce)
	}
	return &Permit{
		Owner:    common.HexToAddress(a.Owner),
		Spender:  common.HexToAddress(a.Spender),
		Value:    value,
		Nonce:    big.NewInt(int64(a.Nonce)),
		Deadline: deadline,
	}, nil
}

// CombinedSignature reassembles the split signature into 65-byte hex form.
func (s *PermitSignature) CombinedSignature() (string, error) {
	r := strings.TrimPrefix(s.R, "0x")
	sv := strings.TrimPrefix(s.S, "0x")
	if len(r) != 64 || len(sv) != 64 {
		return "", fmt.Errorf("invalid permit signature components")
	}
	v := s.V
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("invalid permit signature v %d", s.V)
	}
	return fmt.Sprintf("0x%s%s%02x", r, sv, v), nil
}
