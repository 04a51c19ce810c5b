package ton

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/sigweihq/t402pay/pkg/constants"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

// ExactPayload is the wire form of an exact TON payment: a signed external
// message plus the transfer metadata the client claims it carries. The
// metadata is what gets checked against requirements; the BOC is broadcast
// unchanged.
type ExactPayload struct {
	SignedBoc     string        `json:"signedBoc"`
	Authorization Authorization `json:"authorization"`
}

// Authorization is the declared Jetton transfer.
type Authorization struct {
	From         string `json:"from"`
	To           string `json:"to"`
	JettonMaster string `json:"jettonMaster"`
	JettonAmount string `json:"jettonAmount"`
	TonAmount    string `json:"tonAmount"`
	ValidUntil   int64  `json:"validUntil"`
	Seqno        int64  `json:"seqno"`
	QueryID      string `json:"queryId"`
}

// ExactScheme verifies and settles exact payments over Jetton transfers.
type ExactScheme struct {
	backends map[string]Backend
	logger   *slog.Logger
	now      func() time.Time
}

// NewExactScheme builds the exact TON scheme over per-network backends.
func NewExactScheme(backends map[string]Backend, logger *slog.Logger) *ExactScheme {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactScheme{backends: backends, logger: logger, now: time.Now}
}

func (s *ExactScheme) Scheme() string     { return types.SchemeExact }
func (s *ExactScheme) CaipFamily() string { return networks.FamilyTON }

// GetExtra has nothing to advertise: the client pays its own gas and the
// facilitator holds no TON keys.
func (s *ExactScheme) GetExtra(network string) map[string]any { return nil }

// GetSigners is empty for the same reason.
func (s *ExactScheme) GetSigners(network string) []string { return nil }

func (s *ExactScheme) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, _, err := s.verify(ctx, payload, requirements)
	return resp, err
}

func (s *ExactScheme) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, *ExactPayload, error) {
	backend, ok := s.backends[requirements.Network]
	if !ok {
		return types.Invalid(types.ReasonUnsupportedNetwork, ""), nil, nil
	}
	if payload.Accepted.Scheme != types.SchemeExact {
		return types.Invalid(types.ReasonUnsupportedScheme, ""), nil, nil
	}
	if payload.Accepted.Network != requirements.Network {
		return types.Invalid(types.ReasonNetworkMismatch, ""), nil, nil
	}

	var wire ExactPayload
	if err := payload.DecodePayload(&wire); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	if wire.SignedBoc == "" || !ValidAddress(wire.Authorization.From) {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	if _, err := base64.StdEncoding.DecodeString(wire.SignedBoc); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	payer := wire.Authorization.From

	if !AddressesEqual(wire.Authorization.To, requirements.PayTo) {
		return types.Invalid(types.ReasonRecipientMismatch, payer), nil, nil
	}
	if !AddressesEqual(wire.Authorization.JettonMaster, requirements.Asset) {
		return types.Invalid(types.ReasonAssetMismatch, payer), nil, nil
	}

	required, err := types.ParseAtomicAmount(requirements.Amount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	declared, err := types.ParseAtomicAmount(wire.Authorization.JettonAmount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	if declared.Cmp(required) != 0 {
		return types.Invalid(types.ReasonAmountMismatch, payer), nil, nil
	}

	buffer := int64(constants.MinValidityBuffer / time.Second)
	if wire.Authorization.ValidUntil <= s.now().Unix()+buffer {
		return types.Invalid(types.ReasonAuthorizationExpired, payer), nil, nil
	}

	deployed, err := backend.IsDeployed(ctx, payer)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonAccountNotActivated, payer, requirements.Network, err)
	}
	if !deployed {
		return types.Invalid(types.ReasonAccountNotActivated, payer), nil, nil
	}

	// A message signed for an older seqno was already spent or superseded.
	seqno, err := backend.Seqno(ctx, payer)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonNonceAlreadyUsed, payer, requirements.Network, err)
	}
	if wire.Authorization.Seqno != seqno {
		return types.Invalid(types.ReasonNonceAlreadyUsed, payer), nil, nil
	}

	balance, err := backend.JettonBalance(ctx, payer, wire.Authorization.JettonMaster)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonInsufficientBalance, payer, requirements.Network, err)
	}
	if balance.Cmp(required) < 0 {
		return types.Invalid(types.ReasonInsufficientBalance, payer), nil, nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, &wire, nil
}

func (s *ExactScheme) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	verifyResp, wire, err := s.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return types.SettleFailure(verifyResp.InvalidReason, requirements.Network, verifyResp.Payer), nil
	}
	payer := verifyResp.Payer

	backend := s.backends[requirements.Network]
	hash, err := backend.SendBoc(ctx, wire.SignedBoc)
	if err != nil {
		s.logger.Error("broadcast failed",
			"network", requirements.Network, "payer", payer, "error", err)
		return types.SettleFailure(types.ReasonBroadcastFailed, requirements.Network, payer), nil
	}
	s.logger.Info("payment broadcast",
		"network", requirements.Network, "hash", hash, "seqno", wire.Authorization.Seqno)

	// Confirmation on TON is the wallet's seqno advancing past the one the
	// message was signed for.
	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout(requirements))
	defer cancel()
	ticker := time.NewTicker(constants.ConfirmPollInterval)
	defer ticker.Stop()
	for {
		seqno, err := backend.Seqno(confirmCtx, payer)
		if err == nil && seqno > wire.Authorization.Seqno {
			return &types.SettleResponse{
				Success:       true,
				Network:       requirements.Network,
				Transaction:   hash,
				Payer:         payer,
				SettledAmount: requirements.Amount,
			}, nil
		}
		select {
		case <-confirmCtx.Done():
			resp := types.SettleFailure(types.ReasonConfirmationTimeout, requirements.Network, payer)
			resp.Transaction = hash
			return resp, nil
		case <-ticker.C:
		}
	}
}

func confirmTimeout(requirements *types.PaymentRequirements) time.Duration {
	if requirements.MaxTimeoutSeconds > 0 {
		return time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	return constants.DefaultConfirmTimeout
}
