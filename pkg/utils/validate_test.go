package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigweihq/t402pay/pkg/types"
)

func TestIsHexAddress(t *testing.T) {
	assert.True(t, IsHexAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.False(t, IsHexAddress("833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.False(t, IsHexAddress("0x123"))
	assert.False(t, IsHexAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA0291Z"))
	assert.False(t, IsHexAddress(""))
}

func TestIsHexString(t *testing.T) {
	assert.True(t, IsHexString("0xdeadbeef"))
	assert.True(t, IsHexString("0x00"))
	assert.False(t, IsHexString("0x"))
	assert.False(t, IsHexString("0xabc"))
	assert.False(t, IsHexString("deadbeef"))
	assert.False(t, IsHexString("0xzz"))
}

func validRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:  types.SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
	}
}

func TestValidateRequirements(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.PaymentRequirements)
		wantErr bool
	}{
		{"valid exact", func(r *types.PaymentRequirements) {}, false},
		{"missing scheme", func(r *types.PaymentRequirements) { r.Scheme = "" }, true},
		{"missing network", func(r *types.PaymentRequirements) { r.Network = "" }, true},
		{"missing asset", func(r *types.PaymentRequirements) { r.Asset = "" }, true},
		{"missing payTo", func(r *types.PaymentRequirements) { r.PayTo = "" }, true},
		{"exact without amount", func(r *types.PaymentRequirements) { r.Amount = "" }, true},
		{"negative amount", func(r *types.PaymentRequirements) { r.Amount = "-5" }, true},
		{"non-integer amount", func(r *types.PaymentRequirements) { r.Amount = "1.5" }, true},
		{"upto with maxAmount", func(r *types.PaymentRequirements) {
			r.Scheme = types.SchemeUpto
			r.Amount = ""
			r.MaxAmount = "10000000"
		}, false},
		{"upto without maxAmount", func(r *types.PaymentRequirements) {
			r.Scheme = types.SchemeUpto
			r.Amount = ""
		}, true},
		{"upto bad minAmount", func(r *types.PaymentRequirements) {
			r.Scheme = types.SchemeUpto
			r.Amount = ""
			r.MaxAmount = "10000000"
			r.MinAmount = "abc"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirements()
			tt.mutate(&req)
			err := ValidateRequirements(&req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	p := &types.PaymentPayload{
		T402Version: types.T402Version,
		Accepted:    validRequirements(),
		Payload:     json.RawMessage(`{"signature":"0xabc"}`),
	}
	assert.NoError(t, ValidatePayload(p))

	assert.Error(t, ValidatePayload(nil))

	bad := *p
	bad.T402Version = 1
	assert.Error(t, ValidatePayload(&bad))

	bad = *p
	bad.Payload = nil
	assert.Error(t, ValidatePayload(&bad))
}
