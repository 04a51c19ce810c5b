package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationSignRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	auth := &Authorization{
		From:        from,
		To:          common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
		Value:       big.NewInt(1000000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1900000000),
		Nonce:       [32]byte{1, 2, 3},
	}
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	chainID := big.NewInt(8453)

	sig, err := SignAuthorization(key, auth, token, chainID, "USD Coin", "2")
	require.NoError(t, err)

	recovered, err := RecoverAuthorizationSigner(sig, auth, token, chainID, "USD Coin", "2")
	require.NoError(t, err)
	assert.Equal(t, from, recovered)

	// a tampered value must not recover to the signer
	tampered := *auth
	tampered.Value = big.NewInt(2000000)
	recovered, err = RecoverAuthorizationSigner(sig, &tampered, token, chainID, "USD Coin", "2")
	require.NoError(t, err)
	assert.NotEqual(t, from, recovered)

	// a different domain must not recover to the signer either
	recovered, err = RecoverAuthorizationSigner(sig, auth, token, big.NewInt(1), "USD Coin", "2")
	require.NoError(t, err)
	assert.NotEqual(t, from, recovered)
}

func TestPermitSignRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	permit := &Permit{
		Owner:    owner,
		Spender:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value:    big.NewInt(10000000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(1900000000),
	}
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	chainID := big.NewInt(8453)

	sig, err := SignPermit(key, permit, token, chainID, "USD Coin", "2")
	require.NoError(t, err)

	recovered, err := RecoverPermitSigner(sig, permit, token, chainID, "USD Coin", "2")
	require.NoError(t, err)
	assert.Equal(t, owner, recovered)
}

func TestSplitSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth := &Authorization{
		From:        crypto.PubkeyToAddress(key.PublicKey),
		To:          common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
		Value:       big.NewInt(1),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1900000000),
	}
	sig, err := SignAuthorization(key, auth, common.Address{}, big.NewInt(1), "T", "1")
	require.NoError(t, err)

	v, _, _, err := SplitSignature(sig)
	require.NoError(t, err)
	assert.Contains(t, []uint8{27, 28}, v)

	_, _, _, err = SplitSignature("0x1234")
	assert.Error(t, err)
	_, _, _, err = SplitSignature("zz")
	assert.Error(t, err)
}
