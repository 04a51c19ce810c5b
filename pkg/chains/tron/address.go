// Package tron implements the exact payment scheme over TRC-20 transfers for
// tron networks. The client ships a fully signed TriggerSmartContract
// transaction; the facilitator decodes it, recovers the signer and checks the
// transfer against requirements, then broadcasts it unchanged.
package tron

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// addressPrefix is the mainnet byte prepended to the 20-byte account hash.
const addressPrefix = 0x41

const rawAddressLength = 21

// DecodeAddress decodes a T-prefix base58check address into its 21-byte raw
// form (prefix + 20-byte hash).
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", address, err)
	}
	if len(raw) != rawAddressLength+4 {
		return nil, fmt.Errorf("invalid address length %d", len(raw))
	}
	payload, checksum := raw[:rawAddressLength], raw[rawAddressLength:]
	if payload[0] != addressPrefix {
		return nil, fmt.Errorf("invalid address prefix 0x%02x", payload[0])
	}
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	if !bytes.Equal(checksum, h2[:4]) {
		return nil, fmt.Errorf("address checksum mismatch")
	}
	return payload, nil
}

// EncodeAddress encodes a 21-byte raw address into base58check form.
func EncodeAddress(raw []byte) (string, error) {
	if len(raw) != rawAddressLength || raw[0] != addressPrefix {
		return "", fmt.Errorf("invalid raw address")
	}
	h1 := sha256.Sum256(raw)
	h2 := sha256.Sum256(h1[:])
	return base58.Encode(append(append([]byte{}, raw...), h2[:4]...)), nil
}

// EncodeEVMAddress wraps a 20-byte account hash into base58check form.
func EncodeEVMAddress(hash []byte) (string, error) {
	if len(hash) != 20 {
		return "", fmt.Errorf("invalid account hash length %d", len(hash))
	}
	return EncodeAddress(append([]byte{addressPrefix}, hash...))
}

// ValidAddress reports whether s parses as a TRON address.
func ValidAddress(s string) bool {
	_, err := DecodeAddress(s)
	return err == nil
}

// AddressesEqual compares two base58check addresses. Base58check is
// case-sensitive, so equality is exact once both parse.
func AddressesEqual(a, b string) bool {
	ra, err := DecodeAddress(a)
	if err != nil {
		return false
	}
	rb, err := DecodeAddress(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
