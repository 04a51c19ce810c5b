package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerPool holds the facilitator-managed EVM keys. Pick draws uniformly so
// load spreads across the pool.
type SignerPool struct {
	keys      []*ecdsa.PrivateKey
	addresses []common.Address
}

// NewSignerPool builds a pool from 0x-hex private keys.
func NewSignerPool(privateKeys []string) (*SignerPool, error) {
	if len(privateKeys) == 0 {
		return nil, fmt.Errorf("signer pool needs at least one key")
	}
	pool := &SignerPool{}
	for i, hexKey := range privateKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key at index %d: %w", i, err)
		}
		pool.keys = append(pool.keys, key)
		pool.addresses = append(pool.addresses, crypto.PubkeyToAddress(key.PublicKey))
	}
	return pool, nil
}

// Pick returns a uniformly random signer key and its address.
func (p *SignerPool) Pick() (*ecdsa.PrivateKey, common.Address) {
	i := rand.Intn(len(p.keys))
	return p.keys[i], p.addresses[i]
}

// Addresses returns every managed signer address.
func (p *SignerPool) Addresses() []string {
	out := make([]string, len(p.addresses))
	for i, a := range p.addresses {
		out[i] = a.Hex()
	}
	return out
}

// Manages reports whether addr is one of the pool's signers.
func (p *SignerPool) Manages(addr common.Address) bool {
	for _, a := range p.addresses {
		if a == addr {
			return true
		}
	}
	return false
}
