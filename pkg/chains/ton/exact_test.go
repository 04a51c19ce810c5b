package ton

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

type fakeBackend struct {
	seqno    int64
	deployed bool
	balance  *big.Int
	sendErr  error
	sent     int

	// when set, the first confirmation poll after a broadcast reports the
	// seqno advanced
	confirmOnSend bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		seqno:         41,
		deployed:      true,
		balance:       big.NewInt(5000000),
		confirmOnSend: true,
	}
}

func (f *fakeBackend) Seqno(ctx context.Context, address string) (int64, error) {
	return f.seqno, nil
}

func (f *fakeBackend) IsDeployed(ctx context.Context, address string) (bool, error) {
	return f.deployed, nil
}

func (f *fakeBackend) JettonBalance(ctx context.Context, owner, jettonMaster string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) SendBoc(ctx context.Context, signedBoc string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent++
	if f.confirmOnSend {
		f.seqno++
	}
	return "dGhlLW1lc3NhZ2UtaGFzaA==", nil
}

type tonFixture struct {
	scheme       *ExactScheme
	backend      *fakeBackend
	payer        string
	payTo        string
	jettonMaster string
}

func newTonFixture(t *testing.T) *tonFixture {
	t.Helper()

	backend := newFakeBackend()
	scheme := NewExactScheme(map[string]Backend{networks.TonMainnet: backend}, nil)
	return &tonFixture{
		scheme:       scheme,
		backend:      backend,
		payer:        testAddress(0x01).Friendly(),
		payTo:        testAddress(0x02).Friendly(),
		jettonMaster: testAddress(0x03).Friendly(),
	}
}

func (f *tonFixture) requirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: networks.TonMainnet,
		Amount:  "1000000",
		Asset:   f.jettonMaster,
		PayTo:   f.payTo,
	}
}

func (f *tonFixture) payload(t *testing.T, amount string, mutate func(*Authorization)) *types.PaymentPayload {
	t.Helper()

	auth := Authorization{
		From:         f.payer,
		To:           f.payTo,
		JettonMaster: f.jettonMaster,
		JettonAmount: amount,
		TonAmount:    "50000000",
		ValidUntil:   time.Now().Unix() + 600,
		Seqno:        41,
		QueryID:      "7",
	}
	if mutate != nil {
		mutate(&auth)
	}

	raw, err := json.Marshal(ExactPayload{SignedBoc: "dGVzdC1ib2M=", Authorization: auth})
	require.NoError(t, err)

	return &types.PaymentPayload{
		T402Version: types.T402Version,
		Accepted:    *f.requirements(),
		Payload:     raw,
	}
}

func TestTonVerifyValid(t *testing.T) {
	f := newTonFixture(t)

	resp, err := f.scheme.Verify(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, f.payer, resp.Payer)
}

func TestTonVerifyRejections(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		mutate     func(*Authorization)
		setup      func(*tonFixture, *types.PaymentRequirements)
		wantReason string
	}{
		{
			name: "underpayment", amount: "999999",
			wantReason: types.ReasonAmountMismatch,
		},
		{
			name: "overpayment", amount: "1000001",
			wantReason: types.ReasonAmountMismatch,
		},
		{
			name: "wrong recipient", amount: "1000000",
			mutate: func(a *Authorization) {
				a.To = testAddress(0x99).Friendly()
			},
			wantReason: types.ReasonRecipientMismatch,
		},
		{
			name: "wrong jetton master", amount: "1000000",
			mutate: func(a *Authorization) {
				a.JettonMaster = testAddress(0x98).Friendly()
			},
			wantReason: types.ReasonAssetMismatch,
		},
		{
			name: "expired", amount: "1000000",
			mutate: func(a *Authorization) {
				a.ValidUntil = time.Now().Unix() - 10
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "expires within validity buffer", amount: "1000000",
			mutate: func(a *Authorization) {
				a.ValidUntil = time.Now().Unix() + 5
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "undeployed wallet", amount: "1000000",
			setup: func(f *tonFixture, r *types.PaymentRequirements) {
				f.backend.deployed = false
			},
			wantReason: types.ReasonAccountNotActivated,
		},
		{
			name: "stale seqno", amount: "1000000",
			setup: func(f *tonFixture, r *types.PaymentRequirements) {
				f.backend.seqno = 42
			},
			wantReason: types.ReasonNonceAlreadyUsed,
		},
		{
			name: "insufficient balance", amount: "1000000",
			setup: func(f *tonFixture, r *types.PaymentRequirements) {
				f.backend.balance = big.NewInt(10)
			},
			wantReason: types.ReasonInsufficientBalance,
		},
		{
			name: "invalid sender address", amount: "1000000",
			mutate: func(a *Authorization) {
				a.From = "nonsense"
			},
			wantReason: types.ReasonInvalidPayloadStructure,
		},
		{
			name: "unsupported network", amount: "1000000",
			setup: func(f *tonFixture, r *types.PaymentRequirements) {
				r.Network = networks.TonTestnet
			},
			wantReason: types.ReasonUnsupportedNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTonFixture(t)
			req := f.requirements()
			payload := f.payload(t, tt.amount, tt.mutate)
			if tt.setup != nil {
				tt.setup(f, req)
			}

			resp, err := f.scheme.Verify(context.Background(), payload, req)
			require.NoError(t, err)
			assert.False(t, resp.IsValid)
			assert.Equal(t, tt.wantReason, resp.InvalidReason)
		})
	}
}

func TestTonVerifyNonBounceableRecipientMatches(t *testing.T) {
	f := newTonFixture(t)
	payload := f.payload(t, "1000000", func(a *Authorization) {
		parsed, err := ParseAddress(a.To)
		require.NoError(t, err)
		parsed.Bounceable = false
		a.To = parsed.Friendly()
	})

	resp, err := f.scheme.Verify(context.Background(), payload, f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
}

func TestTonVerifyMalformedBoc(t *testing.T) {
	f := newTonFixture(t)
	payload := f.payload(t, "1000000", nil)

	var wire ExactPayload
	require.NoError(t, json.Unmarshal(payload.Payload, &wire))
	wire.SignedBoc = "%%%not-base64%%%"
	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	payload.Payload = raw

	resp, err := f.scheme.Verify(context.Background(), payload, f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, types.ReasonInvalidPayloadStructure, resp.InvalidReason)
}

func TestTonSettleSuccess(t *testing.T) {
	f := newTonFixture(t)

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, networks.TonMainnet, resp.Network)
	assert.NotEmpty(t, resp.Transaction)
	assert.Equal(t, "1000000", resp.SettledAmount)
	assert.Equal(t, f.payer, resp.Payer)
	assert.Equal(t, 1, f.backend.sent)
}

func TestTonSettleInvalidShortCircuits(t *testing.T) {
	f := newTonFixture(t)

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "999999", nil), f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonAmountMismatch, resp.ErrorReason)
	assert.Equal(t, 0, f.backend.sent, "invalid payment must not be broadcast")
}

func TestTonSettleBroadcastFailure(t *testing.T) {
	f := newTonFixture(t)
	f.backend.sendErr = errors.New("toncenter unavailable")

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonBroadcastFailed, resp.ErrorReason)
}

func TestTonSettleConfirmationTimeout(t *testing.T) {
	f := newTonFixture(t)
	f.backend.confirmOnSend = false
	req := f.requirements()
	req.MaxTimeoutSeconds = 1

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonConfirmationTimeout, resp.ErrorReason)
	assert.NotEmpty(t, resp.Transaction)
}
