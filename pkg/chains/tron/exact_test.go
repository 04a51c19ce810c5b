package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

// protobuf writer, test-side counterpart of the reader in protocol.go

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendField(buf []byte, num int, value []byte) []byte {
	buf = appendVarint(buf, uint64(num)<<3|wireBytes)
	buf = appendVarint(buf, uint64(len(value)))
	return append(buf, value...)
}

func appendVarintField(buf []byte, num int, v uint64) []byte {
	buf = appendVarint(buf, uint64(num)<<3|wireVarint)
	return appendVarint(buf, v)
}

type txParams struct {
	key        *ecdsa.PrivateKey
	contract   string
	to         string
	amount     *big.Int
	expiration int64
	timestamp  int64
	signWith   *ecdsa.PrivateKey // defaults to key
}

func buildSignedTx(t *testing.T, p txParams) string {
	t.Helper()

	owner := append([]byte{addressPrefix}, crypto.PubkeyToAddress(p.key.PublicKey).Bytes()...)
	contractRaw, err := DecodeAddress(p.contract)
	require.NoError(t, err)
	toRaw, err := DecodeAddress(p.to)
	require.NoError(t, err)

	data := append([]byte{}, trc20TransferSelector...)
	data = append(data, make([]byte, 12)...)
	data = append(data, toRaw[1:]...)
	data = append(data, p.amount.FillBytes(make([]byte, 32))...)

	var call []byte
	call = appendField(call, 1, owner)
	call = appendField(call, 2, contractRaw)
	call = appendField(call, 4, data)

	var anyMsg []byte
	anyMsg = appendField(anyMsg, 1, []byte("type.googleapis.com/protocol.TriggerSmartContract"))
	anyMsg = appendField(anyMsg, 2, call)

	var contractMsg []byte
	contractMsg = appendVarintField(contractMsg, 1, triggerSmartContractType)
	contractMsg = appendField(contractMsg, 2, anyMsg)

	var rawData []byte
	rawData = appendField(rawData, 1, []byte{0xab, 0xcd})
	rawData = appendField(rawData, 4, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	rawData = appendVarintField(rawData, 8, uint64(p.expiration))
	rawData = appendField(rawData, 11, contractMsg)
	rawData = appendVarintField(rawData, 14, uint64(p.timestamp))
	rawData = appendVarintField(rawData, 18, 100_000_000)

	signKey := p.signWith
	if signKey == nil {
		signKey = p.key
	}
	hash := sha256.Sum256(rawData)
	sig, err := crypto.Sign(hash[:], signKey)
	require.NoError(t, err)

	var tx []byte
	tx = appendField(tx, 1, rawData)
	tx = appendField(tx, 2, sig)
	return hex.EncodeToString(tx)
}

type fakeBackend struct {
	activated    bool
	balance      *big.Int
	broadcastErr error
	broadcast    int
	status       TxStatus
	statusErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{activated: true, balance: big.NewInt(5000000), status: TxSuccess}
}

func (f *fakeBackend) Broadcast(ctx context.Context, hexTx string) (string, error) {
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	f.broadcast++
	return "", nil
}

func (f *fakeBackend) TransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeBackend) IsActivated(ctx context.Context, address string) (bool, error) {
	return f.activated, nil
}

func (f *fakeBackend) BalanceOf(ctx context.Context, owner, contract string) (*big.Int, error) {
	return f.balance, nil
}

type tronFixture struct {
	scheme   *ExactScheme
	backend  *fakeBackend
	payerKey *ecdsa.PrivateKey
	payer    string
	payTo    string
}

func newTronFixture(t *testing.T) *tronFixture {
	t.Helper()

	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer, err := EncodeEVMAddress(crypto.PubkeyToAddress(payerKey.PublicKey).Bytes())
	require.NoError(t, err)

	payToHash := make([]byte, 20)
	payToHash[0] = 0x22
	payTo, err := EncodeEVMAddress(payToHash)
	require.NoError(t, err)

	backend := newFakeBackend()
	scheme := NewExactScheme(map[string]Backend{networks.TronMainnet: backend}, nil)
	return &tronFixture{scheme: scheme, backend: backend, payerKey: payerKey, payer: payer, payTo: payTo}
}

func (f *tronFixture) requirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: networks.TronMainnet,
		Amount:  "1000000",
		Asset:   usdtMainnet,
		PayTo:   f.payTo,
	}
}

func (f *tronFixture) payload(t *testing.T, amount string, mutate func(*txParams)) *types.PaymentPayload {
	t.Helper()

	amt, ok := new(big.Int).SetString(amount, 10)
	require.True(t, ok)
	params := txParams{
		key:        f.payerKey,
		contract:   usdtMainnet,
		to:         f.payTo,
		amount:     amt,
		expiration: time.Now().UnixMilli() + 600_000,
		timestamp:  time.Now().UnixMilli(),
	}
	if mutate != nil {
		mutate(&params)
	}

	raw, err := json.Marshal(ExactPayload{
		SignedTransaction: buildSignedTx(t, params),
		Authorization: Authorization{
			From:            f.payer,
			To:              params.to,
			ContractAddress: params.contract,
			Amount:          amount,
			Expiration:      params.expiration,
			Timestamp:       params.timestamp,
		},
	})
	require.NoError(t, err)

	return &types.PaymentPayload{
		T402Version: types.T402Version,
		Accepted:    *f.requirements(),
		Payload:     raw,
	}
}

func TestDecodeSignedTransaction(t *testing.T) {
	f := newTronFixture(t)
	hexTx := buildSignedTx(t, txParams{
		key:        f.payerKey,
		contract:   usdtMainnet,
		to:         f.payTo,
		amount:     big.NewInt(1000000),
		expiration: 1700000600000,
		timestamp:  1700000000000,
	})

	tx, err := DecodeSignedTransaction(hexTx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000600000), tx.RawData.Expiration)
	assert.Equal(t, int64(1700000000000), tx.RawData.Timestamp)
	assert.Equal(t, []byte{0xab, 0xcd}, tx.RawData.RefBlockBytes)
	assert.Len(t, tx.Signatures, 1)
	assert.Len(t, tx.TxID(), 64)

	transfer, err := tx.ParseTransfer()
	require.NoError(t, err)
	assert.Equal(t, f.payer, transfer.From)
	assert.Equal(t, f.payTo, transfer.To)
	assert.Equal(t, usdtMainnet, transfer.Contract)
	assert.Equal(t, "1000000", transfer.Amount.String())

	signer, err := tx.RecoverSigner()
	require.NoError(t, err)
	assert.Equal(t, f.payer, signer)
}

func TestDecodeSignedTransactionRejectsGarbage(t *testing.T) {
	_, err := DecodeSignedTransaction("zzzz")
	assert.Error(t, err)

	_, err = DecodeSignedTransaction("deadbeef")
	assert.Error(t, err)
}

func TestTronVerifyValid(t *testing.T) {
	f := newTronFixture(t)

	resp, err := f.scheme.Verify(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, f.payer, resp.Payer)
}

func TestTronVerifyRejections(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		mutate     func(*tronFixture, *txParams)
		setup      func(*tronFixture, *types.PaymentRequirements)
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
			mutate: func(f *tronFixture, p *txParams) {
				p.to = usdtNile
			},
			wantReason: types.ReasonRecipientMismatch,
		},
		{
			name: "wrong contract", amount: "1000000",
			mutate: func(f *tronFixture, p *txParams) {
				p.contract = usdtNile
			},
			wantReason: types.ReasonAssetMismatch,
		},
		{
			name: "expired", amount: "1000000",
			mutate: func(f *tronFixture, p *txParams) {
				p.expiration = time.Now().UnixMilli() - 10_000
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "expires within validity buffer", amount: "1000000",
			mutate: func(f *tronFixture, p *txParams) {
				p.expiration = time.Now().UnixMilli() + 5_000
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "stale timestamp", amount: "1000000",
			mutate: func(f *tronFixture, p *txParams) {
				p.timestamp = time.Now().UnixMilli() - 25*60*60*1000
			},
			wantReason: types.ReasonAuthorizationExpired,
		},
		{
			name: "signed by someone else", amount: "1000000",
			mutate: func(f *tronFixture, p *txParams) {
				other, err := crypto.GenerateKey()
				require.NoError(t, err)
				p.signWith = other
			},
			wantReason: types.ReasonInvalidSignature,
		},
		{
			name: "account not activated", amount: "1000000",
			setup: func(f *tronFixture, r *types.PaymentRequirements) {
				f.backend.activated = false
			},
			wantReason: types.ReasonAccountNotActivated,
		},
		{
			name: "insufficient balance", amount: "1000000",
			setup: func(f *tronFixture, r *types.PaymentRequirements) {
				f.backend.balance = big.NewInt(10)
			},
			wantReason: types.ReasonInsufficientBalance,
		},
		{
			name: "unsupported network", amount: "1000000",
			setup: func(f *tronFixture, r *types.PaymentRequirements) {
				r.Network = networks.TronNile
			},
			wantReason: types.ReasonUnsupportedNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTronFixture(t)
			req := f.requirements()
			var mutate func(*txParams)
			if tt.mutate != nil {
				mutate = func(p *txParams) { tt.mutate(f, p) }
			}
			payload := f.payload(t, tt.amount, mutate)
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

func TestTronVerifyMalformedTransaction(t *testing.T) {
	f := newTronFixture(t)
	payload := f.payload(t, "1000000", nil)

	var wire ExactPayload
	require.NoError(t, json.Unmarshal(payload.Payload, &wire))
	wire.SignedTransaction = "deadbeef"
	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	payload.Payload = raw

	resp, err := f.scheme.Verify(context.Background(), payload, f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, types.ReasonInvalidPayloadStructure, resp.InvalidReason)
}

func TestTronSettleSuccess(t *testing.T) {
	f := newTronFixture(t)

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, networks.TronMainnet, resp.Network)
	assert.Len(t, resp.Transaction, 64)
	assert.Equal(t, "1000000", resp.SettledAmount)
	assert.Equal(t, f.payer, resp.Payer)
	assert.Equal(t, 1, f.backend.broadcast)
}

func TestTronSettleInvalidShortCircuits(t *testing.T) {
	f := newTronFixture(t)

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "999999", nil), f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonAmountMismatch, resp.ErrorReason)
	assert.Equal(t, 0, f.backend.broadcast, "invalid payment must not be broadcast")
}

func TestTronSettleBroadcastFailure(t *testing.T) {
	f := newTronFixture(t)
	f.backend.broadcastErr = errors.New("SIGERROR")

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonBroadcastFailed, resp.ErrorReason)
}

func TestTronSettleFailedTransaction(t *testing.T) {
	f := newTronFixture(t)
	f.backend.status = TxFailed
	f.backend.statusErr = errors.New("transaction failed with result OUT_OF_ENERGY")

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), f.requirements())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonConfirmationFailed, resp.ErrorReason)
	assert.NotEmpty(t, resp.Transaction)
}

func TestTronSettleConfirmationTimeout(t *testing.T) {
	f := newTronFixture(t)
	f.backend.status = TxPending
	req := f.requirements()
	req.MaxTimeoutSeconds = 1

	resp, err := f.scheme.Settle(context.Background(), f.payload(t, "1000000", nil), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonConfirmationTimeout, resp.ErrorReason)
}
