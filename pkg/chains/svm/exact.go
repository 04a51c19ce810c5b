package svm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/t402pay/pkg/constants"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

func confirmTimeout(requirements *types.PaymentRequirements) time.Duration {
	if requirements.MaxTimeoutSeconds > 0 {
		return time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	return constants.DefaultConfirmTimeout
}

// ExactPayload is the wire form of an exact SVM payment: a base64 client
// transaction with an empty signature slot for the facilitator fee payer.
type ExactPayload struct {
	Transaction string `json:"transaction"`
}

// ExactScheme verifies and settles exact payments over SPL TransferChecked.
type ExactScheme struct {
	backends map[string]Backend
	keys     *KeyPool
	logger   *slog.Logger
}

// NewExactScheme builds the exact SVM scheme over per-network backends.
func NewExactScheme(backends map[string]Backend, keys *KeyPool, logger *slog.Logger) *ExactScheme {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactScheme{backends: backends, keys: keys, logger: logger}
}

func (s *ExactScheme) Scheme() string     { return types.SchemeExact }
func (s *ExactScheme) CaipFamily() string { return networks.FamilySVM }

// GetExtra advertises one facilitator fee payer, drawn uniformly from the
// pool per call.
func (s *ExactScheme) GetExtra(network string) map[string]any {
	return map[string]any{"feePayer": s.keys.Pick().PublicKey().String()}
}

func (s *ExactScheme) GetSigners(network string) []string {
	return s.keys.Addresses()
}

func (s *ExactScheme) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, _, err := s.verify(ctx, payload, requirements)
	return resp, err
}

// verify returns the response plus the signed transaction ready for
// submission by Settle.
func (s *ExactScheme) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, *solana.Transaction, error) {
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
	if err := payload.DecodePayload(&wire); err != nil || wire.Transaction == "" {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	tx, err := DecodeTransaction(wire.Transaction)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}

	if requirements.Extra.FeePayer == "" {
		return types.Invalid(types.ReasonMissingFeePayer, ""), nil, nil
	}
	feePayer, err := FeePayer(tx)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	if feePayer.String() != requirements.Extra.FeePayer || !s.keys.Manages(feePayer) {
		return types.Invalid(types.ReasonFeePayerNotManaged, ""), nil, nil
	}

	transfer, err := ParseTransferChecked(tx)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	payer := transfer.Owner.String()

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	if !transfer.Mint.Equals(mint) {
		return types.Invalid(types.ReasonAssetMismatch, payer), nil, nil
	}
	if known, ok := networks.AssetByAddress(requirements.Network, requirements.Asset); ok && int(transfer.Decimals) != known.Decimals {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}

	expectedDest, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	if !transfer.Destination.Equals(expectedDest) {
		return types.Invalid(types.ReasonRecipientMismatch, payer), nil, nil
	}

	required, err := types.ParseAtomicAmount(requirements.Amount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	if new(big.Int).SetUint64(transfer.Amount).Cmp(required) != 0 {
		return types.Invalid(types.ReasonAmountMismatch, payer), nil, nil
	}

	// No facilitator-managed key may be the one moving funds, whichever key
	// fee-pays this particular transaction.
	if s.keys.Manages(transfer.Owner) {
		return types.Invalid(types.ReasonFeePayerTransferring, payer), nil, nil
	}

	balance, err := backend.TokenBalance(ctx, transfer.Source)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonInsufficientBalance, payer, requirements.Network, err)
	}
	if balance.Cmp(required) < 0 {
		return types.Invalid(types.ReasonInsufficientBalance, payer), nil, nil
	}

	key, ok := s.keys.KeyFor(feePayer)
	if !ok {
		return types.Invalid(types.ReasonFeePayerNotManaged, payer), nil, nil
	}
	if err := SpliceSignature(tx, key); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}

	if err := backend.Simulate(ctx, tx); err != nil {
		return types.Invalid(fmt.Sprintf("%s: %v", types.ReasonSimulationFailed, err), payer), nil, nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, tx, nil
}

func (s *ExactScheme) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	verifyResp, tx, err := s.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return types.SettleFailure(verifyResp.InvalidReason, requirements.Network, verifyResp.Payer), nil
	}
	payer := verifyResp.Payer

	backend := s.backends[requirements.Network]
	sig, err := backend.Send(ctx, tx)
	if err != nil {
		s.logger.Error("broadcast failed",
			"network", requirements.Network, "payer", payer, "error", err)
		return types.SettleFailure(types.ReasonBroadcastFailed, requirements.Network, payer), nil
	}
	s.logger.Info("payment broadcast",
		"network", requirements.Network, "signature", sig.String())

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout(requirements))
	defer cancel()
	if err := backend.Confirm(confirmCtx, sig); err != nil {
		reason := types.ReasonConfirmationFailed
		if confirmCtx.Err() != nil {
			reason = types.ReasonConfirmationTimeout
		}
		resp := types.SettleFailure(reason, requirements.Network, payer)
		resp.Transaction = sig.String()
		return resp, nil
	}

	return &types.SettleResponse{
		Success:       true,
		Network:       requirements.Network,
		Transaction:   sig.String(),
		Payer:         payer,
		SettledAmount: requirements.Amount,
	}, nil
}
