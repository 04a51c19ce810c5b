package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

const testRouter = "0x4242424242424242424242424242424242424242"

type uptoFixture struct {
	scheme   *UptoScheme
	backend  *fakeBackend
	payerKey *ecdsa.PrivateKey
	payer    common.Address
}

func newUptoFixture(t *testing.T) *uptoFixture {
	t.Helper()

	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	pool, err := NewSignerPool([]string{hex.EncodeToString(crypto.FromECDSA(signerKey))})
	require.NoError(t, err)

	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(payerKey.PublicKey)

	backend := newFakeBackend()
	backend.balances[payer] = big.NewInt(50000000)

	scheme := NewUptoScheme(
		map[string]Backend{networks.Base: backend},
		pool,
		map[string]common.Address{networks.Base: common.HexToAddress(testRouter)},
		nil,
	)
	return &uptoFixture{scheme: scheme, backend: backend, payerKey: payerKey, payer: payer}
}

func (f *uptoFixture) requirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:    types.SchemeUpto,
		Network:   networks.Base,
		MaxAmount: "10000000",
		MinAmount: "100000",
		Asset:     testToken,
		PayTo:     testPayTo,
		Extra: types.Extra{
			Name:          "USD Coin",
			Version:       "2",
			RouterAddress: testRouter,
		},
	}
}

func (f *uptoFixture) payload(t *testing.T, mutate func(*PermitAuthorization)) *types.PaymentPayload {
	t.Helper()

	wireAuth := PermitAuthorization{
		Owner:    f.payer.Hex(),
		Spender:  testRouter,
		Value:    "10000000",
		Deadline: big.NewInt(time.Now().Unix() + 3600).String(),
		Nonce:    0,
	}
	if mutate != nil {
		mutate(&wireAuth)
	}

	permit, err := wireAuth.ToPermit()
	require.NoError(t, err)
	sig, err := SignPermit(f.payerKey, permit, common.HexToAddress(testToken), big.NewInt(8453), "USD Coin", "2")
	require.NoError(t, err)
	v, r, sv, err := SplitSignature(sig)
	require.NoError(t, err)

	raw, err := json.Marshal(UptoPayload{
		Signature: PermitSignature{
			V: int(v),
			R: "0x" + common.Bytes2Hex(r[:]),
			S: "0x" + common.Bytes2Hex(sv[:]),
		},
		Authorization: wireAuth,
		PaymentNonce:  "0x" + common.Bytes2Hex(bytes32(9)),
	})
	require.NoError(t, err)

	return &types.PaymentPayload{
		T402Version: types.T402Version,
		Accepted:    *f.requirements(),
		Payload:     raw,
	}
}

func TestUptoVerifyValid(t *testing.T) {
	f := newUptoFixture(t)

	resp, err := f.scheme.Verify(context.Background(), f.payload(t, nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, f.payer.Hex(), resp.Payer)
}

func TestUptoVerifyRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*PermitAuthorization)
		setup      func(*uptoFixture)
		wantReason string
	}{
		{
			name: "wrong spender",
			mutate: func(a *PermitAuthorization) {
				a.Spender = "0x1111111111111111111111111111111111111111"
			},
			wantReason: types.ReasonRecipientMismatch,
		},
		{
			name: "permit under max",
			mutate: func(a *PermitAuthorization) {
				a.Value = "9999999"
			},
			wantReason: types.ReasonAmountMismatch,
		},
		{
			name: "expired deadline",
			mutate: func(a *PermitAuthorization) {
				a.Deadline = big.NewInt(time.Now().Unix() - 10).String()
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "stale permit nonce",
			setup: func(f *uptoFixture) {
				f.backend.permitNonces[f.payer] = big.NewInt(3)
			},
			wantReason: types.ReasonPermitNonceMismatch,
		},
		{
			name: "insufficient balance",
			setup: func(f *uptoFixture) {
				f.backend.balances[f.payer] = big.NewInt(1)
			},
			wantReason: types.ReasonInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUptoFixture(t)
			payload := f.payload(t, tt.mutate)
			if tt.setup != nil {
				tt.setup(f)
			}

			resp, err := f.scheme.Verify(context.Background(), payload, f.requirements())
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.wantReason, resp.InvalidReason)
		})
	}
}

func TestUptoSettleAmountWithinBounds(t *testing.T) {
	f := newUptoFixture(t)

	resp, err := f.scheme.SettleAmount(context.Background(), f.payload(t, nil), f.requirements(), "2500000", &types.UsageDetails{
		UnitsConsumed: 25,
		UnitPrice:     "100000",
		UnitType:      "request",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "2500000", resp.SettledAmount)
	assert.Equal(t, 1, f.backend.executed)
}

func TestUptoSettleAmountExceedsMax(t *testing.T) {
	f := newUptoFixture(t)

	resp, err := f.scheme.SettleAmount(context.Background(), f.payload(t, nil), f.requirements(), "10000001", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonSettleAmountTooHigh, resp.ErrorReason)
	assert.Equal(t, 0, f.backend.executed, "over-settlement must never reach the chain")
}

func TestUptoSettleAmountBelowMin(t *testing.T) {
	f := newUptoFixture(t)

	resp, err := f.scheme.SettleAmount(context.Background(), f.payload(t, nil), f.requirements(), "99999", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonSettleAmountTooLow, resp.ErrorReason)
	assert.Equal(t, 0, f.backend.executed)
}

func TestUptoSettleZeroAmountConsumesNonce(t *testing.T) {
	f := newUptoFixture(t)

	// zero settlement bypasses the minimum and still executes on-chain
	resp, err := f.scheme.SettleAmount(context.Background(), f.payload(t, nil), f.requirements(), "0", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0", resp.SettledAmount)
	assert.Equal(t, 1, f.backend.executed)
}

func TestUptoSettleDefaultsToMax(t *testing.T) {
	f := newUptoFixture(t)

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "10000000", resp.SettledAmount)
}
