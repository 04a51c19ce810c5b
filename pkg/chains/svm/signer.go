// Package svm implements the exact payment scheme over SPL TransferChecked
// for solana networks. The client submits a fully built transaction with the
// facilitator as fee payer; the facilitator adds its signature and sends it.
package svm

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// KeyPool holds the facilitator-managed fee-payer keys.
type KeyPool struct {
	keys    []solana.PrivateKey
	pubkeys []solana.PublicKey
}

// NewKeyPool builds a pool from private keys given either as base58 or as
// hex (32-byte seed or 64-byte expanded key).
func NewKeyPool(privateKeys []string) (*KeyPool, error) {
	if len(privateKeys) == 0 {
		return nil, fmt.Errorf("key pool needs at least one key")
	}
	pool := &KeyPool{}
	for i, raw := range privateKeys {
		key, err := parsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid private key at index %d: %w", i, err)
		}
		pool.keys = append(pool.keys, key)
		pool.pubkeys = append(pool.pubkeys, key.PublicKey())
	}
	return pool, nil
}

func parsePrivateKey(raw string) (solana.PrivateKey, error) {
	if trimmed := strings.TrimPrefix(raw, "0x"); trimmed != raw || isHex(trimmed) {
		keyBytes, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, err
		}
		switch len(keyBytes) {
		case 32:
			return solana.PrivateKey(ed25519.NewKeyFromSeed(keyBytes)), nil
		case 64:
			return solana.PrivateKey(keyBytes), nil
		default:
			return nil, fmt.Errorf("invalid key length %d (expected 32 or 64 bytes)", len(keyBytes))
		}
	}
	return solana.PrivateKeyFromBase58(raw)
}

func isHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Pick returns a uniformly random key from the pool.
func (p *KeyPool) Pick() solana.PrivateKey {
	return p.keys[rand.Intn(len(p.keys))]
}

// KeyFor returns the private key whose public key matches pubkey.
func (p *KeyPool) KeyFor(pubkey solana.PublicKey) (solana.PrivateKey, bool) {
	for i, pk := range p.pubkeys {
		if pk.Equals(pubkey) {
			return p.keys[i], true
		}
	}
	return nil, false
}

// Addresses returns every managed fee-payer address.
func (p *KeyPool) Addresses() []string {
	out := make([]string, len(p.pubkeys))
	for i, pk := range p.pubkeys {
		out[i] = pk.String()
	}
	return out
}

// Manages reports whether pubkey is one of the pool's keys.
func (p *KeyPool) Manages(pubkey solana.PublicKey) bool {
	_, ok := p.KeyFor(pubkey)
	return ok
}
