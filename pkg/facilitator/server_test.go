package facilitator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/t402pay/pkg/metrics"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

func newTestServer(t *testing.T, impl *stubScheme) *Server {
	t.Helper()
	f, _ := newTestFacilitator(t, impl)
	return NewServer(f, nil, nil)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerVerify(t *testing.T) {
	srv := newTestServer(t, &stubScheme{
		scheme: types.SchemeExact, family: networks.FamilyEVM,
		verifyResp: &types.VerifyResponse{IsValid: true, Payer: "0xpayer"},
	})

	req := exactRequirements()
	rec := postJSON(t, srv.Handler(), "/verify", VerifyRequest{
		PaymentPayload:      payloadFor(req),
		PaymentRequirements: req,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xpayer", resp.Payer)
}

func TestServerVerifyInvalidPaymentIsStillOK(t *testing.T) {
	srv := newTestServer(t, &stubScheme{
		scheme: types.SchemeExact, family: networks.FamilyEVM,
		verifyResp: &types.VerifyResponse{IsValid: false, InvalidReason: types.ReasonInsufficientBalance},
	})

	req := exactRequirements()
	rec := postJSON(t, srv.Handler(), "/verify", VerifyRequest{
		PaymentPayload:      payloadFor(req),
		PaymentRequirements: req,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Equal(t, types.ReasonInsufficientBalance, resp.InvalidReason)
}

func TestServerVerifyBadBody(t *testing.T) {
	srv := newTestServer(t, &stubScheme{scheme: types.SchemeExact, family: networks.FamilyEVM})

	t.Run("not json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader([]byte("not json")))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := postJSON(t, srv.Handler(), "/verify", map[string]any{"paymentPayload": nil})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServerSettle(t *testing.T) {
	srv := newTestServer(t, &stubScheme{
		scheme: types.SchemeExact, family: networks.FamilyEVM,
		settleResp: &types.SettleResponse{
			Success: true, Network: networks.Base,
			Transaction: "0xfeed", SettledAmount: "1000000",
		},
	})

	req := exactRequirements()
	rec := postJSON(t, srv.Handler(), "/settle", SettleRequest{
		PaymentPayload:      payloadFor(req),
		PaymentRequirements: req,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "0xfeed", resp.Transaction)
	assert.Equal(t, "1000000", resp.SettledAmount)
}

func TestServerSettleAmount(t *testing.T) {
	impl := &stubMeteredScheme{stubScheme: stubScheme{
		scheme: types.SchemeUpto, family: networks.FamilyEVM,
		settleResp: &types.SettleResponse{Success: true, Network: networks.Base, SettledAmount: "250000"},
	}}
	f, _ := newTestFacilitator(t, impl)
	srv := NewServer(f, nil, nil)

	req := exactRequirements()
	req.Scheme = types.SchemeUpto
	req.MaxAmount = "1000000"
	req.Amount = ""
	rec := postJSON(t, srv.Handler(), "/settle", SettleRequest{
		PaymentPayload:      payloadFor(req),
		PaymentRequirements: req,
		SettleAmount:        "250000",
		Usage:               &types.UsageDetails{UnitsConsumed: 3, UnitType: "request"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "250000", impl.settleAmountSeen)
	require.NotNil(t, impl.usageSeen)
	assert.Equal(t, 3, impl.usageSeen.UnitsConsumed)
}

func TestServerSupported(t *testing.T) {
	srv := newTestServer(t, &stubScheme{
		scheme: types.SchemeExact, family: networks.FamilyEVM,
		signers: []string{"0xsigner"},
	})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Kinds)
	for _, k := range resp.Kinds {
		assert.Equal(t, types.SchemeExact, k.Scheme)
		assert.Equal(t, networks.FamilyEVM, networks.Family(k.Network))
	}
	assert.Equal(t, []string{"0xsigner"}, resp.Signers[networks.FamilyEVM])
}

func TestServerHealth(t *testing.T) {
	srv := newTestServer(t, &stubScheme{scheme: types.SchemeExact, family: networks.FamilyEVM})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewPrometheusRecorder(registry)

	f, _ := newTestFacilitator(t, &stubScheme{
		scheme: types.SchemeExact, family: networks.FamilyEVM,
		verifyResp: &types.VerifyResponse{IsValid: true},
	})
	srv := NewServer(f, nil, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
