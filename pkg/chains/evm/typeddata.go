// Package evm implements the exact (EIP-3009) and upto (EIP-2612) payment
// schemes for eip155 networks.
package evm

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Authorization is an EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

var eip712DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func transferWithAuthorizationTypedData(auth *Authorization, token common.Address, chainID *big.Int, name, version string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}
}

// Permit is an EIP-2612 permit message.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

func permitTypedData(p *Permit, token common.Address, chainID *big.Int, name, version string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainType,
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    p.Owner.Hex(),
			"spender":  p.Spender.Hex(),
			"value":    (*math.HexOrDecimal256)(p.Value),
			"nonce":    (*math.HexOrDecimal256)(p.Nonce),
			"deadline": (*math.HexOrDecimal256)(p.Deadline),
		},
	}
}

func typedDataDigest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// SignAuthorization signs an EIP-3009 authorization and returns the 65-byte
// signature as 0x-hex with the legacy v offset (27/28).
func SignAuthorization(key *ecdsa.PrivateKey, auth *Authorization, token common.Address, chainID *big.Int, name, version string) (string, error) {
	digest, err := typedDataDigest(transferWithAuthorizationTypedData(auth, token, chainID, name, version))
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAuthorizationSigner recovers the address that signed an EIP-3009
// authorization.
func RecoverAuthorizationSigner(sigHex string, auth *Authorization, token common.Address, chainID *big.Int, name, version string) (common.Address, error) {
	digest, err := typedDataDigest(transferWithAuthorizationTypedData(auth, token, chainID, name, version))
	if err != nil {
		return common.Address{}, err
	}
	return recoverSigner(sigHex, digest)
}

// SignPermit signs an EIP-2612 permit.
func SignPermit(key *ecdsa.PrivateKey, p *Permit, token common.Address, chainID *big.Int, name, version string) (string, error) {
	digest, err := typedDataDigest(permitTypedData(p, token, chainID, name, version))
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign permit: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverPermitSigner recovers the address that signed an EIP-2612 permit.
func RecoverPermitSigner(sigHex string, p *Permit, token common.Address, chainID *big.Int, name, version string) (common.Address, error) {
	digest, err := typedDataDigest(permitTypedData(p, token, chainID, name, version))
	if err != nil {
		return common.Address{}, err
	}
	return recoverSigner(sigHex, digest)
}

func recoverSigner(sigHex string, digest []byte) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length %d, want 65", len(sig))
	}
	// crypto.SigToPub wants the recovery id in [0,1]
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature splits a 65-byte hex signature into v, r, s with the legacy
// v offset applied.
func SplitSignature(sigHex string) (v uint8, r, s [32]byte, err error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return 0, r, s, fmt.Errorf("invalid signature length %d, want 65", len(sig))
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}
