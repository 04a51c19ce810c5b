package tron

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigweihq/t402pay/pkg/constants"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

// ExactPayload is the wire form of an exact TRON payment: the hex-encoded
// signed transaction plus the transfer metadata the client claims it carries.
// Every field that matters is re-derived from the decoded transaction; the
// metadata only has to agree with it.
type ExactPayload struct {
	SignedTransaction string        `json:"signedTransaction"`
	Authorization     Authorization `json:"authorization"`
}

// Authorization is the declared TRC-20 transfer.
type Authorization struct {
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Amount          string `json:"amount"`
	Expiration      int64  `json:"expiration"`
	RefBlockBytes   string `json:"refBlockBytes"`
	RefBlockHash    string `json:"refBlockHash"`
	Timestamp       int64  `json:"timestamp"`
}

// ExactScheme verifies and settles exact payments over TRC-20 transfers.
type ExactScheme struct {
	backends map[string]Backend
	logger   *slog.Logger
	now      func() time.Time
}

// NewExactScheme builds the exact TRON scheme over per-network backends.
func NewExactScheme(backends map[string]Backend, logger *slog.Logger) *ExactScheme {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactScheme{backends: backends, logger: logger, now: time.Now}
}

func (s *ExactScheme) Scheme() string     { return types.SchemeExact }
func (s *ExactScheme) CaipFamily() string { return networks.FamilyTRON }

// GetExtra advertises the network's default TRC-20 token.
func (s *ExactScheme) GetExtra(network string) map[string]any {
	asset, ok := networks.AssetBySymbol(network, "USDT")
	if !ok {
		return nil
	}
	return map[string]any{
		"defaultAsset": asset.Address,
		"symbol":       asset.Symbol,
		"decimals":     asset.Decimals,
	}
}

// GetSigners is empty: the client pays its own energy and the facilitator
// holds no TRON keys.
func (s *ExactScheme) GetSigners(network string) []string { return nil }

func (s *ExactScheme) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, _, err := s.verify(ctx, payload, requirements)
	return resp, err
}

func (s *ExactScheme) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, *SignedTransaction, error) {
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
	if wire.SignedTransaction == "" || !ValidAddress(wire.Authorization.From) {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	payer := wire.Authorization.From

	tx, err := DecodeSignedTransaction(wire.SignedTransaction)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	transfer, err := tx.ParseTransfer()
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}

	// The signature must come from the transaction's owner, and the owner
	// must be who the client says is paying.
	signer, err := tx.RecoverSigner()
	if err != nil {
		return types.Invalid(types.ReasonInvalidSignature, payer), nil, nil
	}
	if !AddressesEqual(signer, transfer.From) || !AddressesEqual(signer, payer) {
		return types.Invalid(types.ReasonInvalidSignature, payer), nil, nil
	}

	if !AddressesEqual(transfer.To, requirements.PayTo) {
		return types.Invalid(types.ReasonRecipientMismatch, payer), nil, nil
	}
	if !AddressesEqual(transfer.Contract, requirements.Asset) {
		return types.Invalid(types.ReasonAssetMismatch, payer), nil, nil
	}

	required, err := types.ParseAtomicAmount(requirements.Amount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	if transfer.Amount.Cmp(required) != 0 {
		return types.Invalid(types.ReasonAmountMismatch, payer), nil, nil
	}

	// Expiration and timestamp are milliseconds.
	nowMs := s.now().UnixMilli()
	if nowMs+constants.MinValidityBuffer.Milliseconds() >= tx.RawData.Expiration {
		return types.Invalid(types.ReasonAuthorizationExpired, payer), nil, nil
	}
	if tx.RawData.Timestamp < nowMs-constants.MaxAuthorizationAge.Milliseconds() {
		return types.Invalid(types.ReasonAuthorizationExpired, payer), nil, nil
	}

	activated, err := backend.IsActivated(ctx, payer)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonAccountNotActivated, payer, requirements.Network, err)
	}
	if !activated {
		return types.Invalid(types.ReasonAccountNotActivated, payer), nil, nil
	}

	balance, err := backend.BalanceOf(ctx, payer, transfer.Contract)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonInsufficientBalance, payer, requirements.Network, err)
	}
	if balance.Cmp(required) < 0 {
		return types.Invalid(types.ReasonInsufficientBalance, payer), nil, nil
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

	var wire ExactPayload
	if err := payload.DecodePayload(&wire); err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, payer), nil
	}

	backend := s.backends[requirements.Network]
	txID, err := backend.Broadcast(ctx, wire.SignedTransaction)
	if err != nil {
		s.logger.Error("broadcast failed",
			"network", requirements.Network, "payer", payer, "error", err)
		return types.SettleFailure(types.ReasonBroadcastFailed, requirements.Network, payer), nil
	}
	if txID == "" {
		txID = tx.TxID()
	}
	s.logger.Info("payment broadcast",
		"network", requirements.Network, "txID", txID)

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout(requirements))
	defer cancel()
	ticker := time.NewTicker(constants.ConfirmPollInterval)
	defer ticker.Stop()
	for {
		status, statusErr := backend.TransactionStatus(confirmCtx, txID)
		switch {
		case statusErr == nil && status == TxSuccess:
			return &types.SettleResponse{
				Success:       true,
				Network:       requirements.Network,
				Transaction:   txID,
				Payer:         payer,
				SettledAmount: requirements.Amount,
			}, nil
		case status == TxFailed:
			s.logger.Error("transaction failed",
				"network", requirements.Network, "txID", txID, "error", statusErr)
			resp := types.SettleFailure(types.ReasonConfirmationFailed, requirements.Network, payer)
			resp.Transaction = txID
			return resp, nil
		}
		select {
		case <-confirmCtx.Done():
			resp := types.SettleFailure(types.ReasonConfirmationTimeout, requirements.Network, payer)
			resp.Transaction = txID
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
