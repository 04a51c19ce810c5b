package evm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigweihq/t402pay/pkg/constants"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

// DefaultDomainVersion is the EIP-712 domain version used when requirements
// don't carry one. USDC deployments use "2".
const DefaultDomainVersion = "2"

// ExactScheme verifies and settles exact payments via EIP-3009
// TransferWithAuthorization.
type ExactScheme struct {
	backends map[string]Backend
	signers  *SignerPool
	logger   *slog.Logger
	now      func() time.Time
}

// NewExactScheme builds the exact EVM scheme over per-network backends.
func NewExactScheme(backends map[string]Backend, signers *SignerPool, logger *slog.Logger) *ExactScheme {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactScheme{
		backends: backends,
		signers:  signers,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ExactScheme) Scheme() string     { return types.SchemeExact }
func (s *ExactScheme) CaipFamily() string { return networks.FamilyEVM }

// GetExtra advertises the EIP-712 domain of the network's preferred
// EIP-3009 asset.
func (s *ExactScheme) GetExtra(network string) map[string]any {
	n, ok := networks.Lookup(network)
	if !ok {
		return nil
	}
	for _, a := range n.Assets {
		if a.SupportsEIP3009 {
			return map[string]any{"name": a.Name, "version": DefaultDomainVersion}
		}
	}
	return nil
}

func (s *ExactScheme) GetSigners(network string) []string {
	return s.signers.Addresses()
}

func (s *ExactScheme) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, _, _, err := s.verify(ctx, payload, requirements)
	return resp, err
}

// verify returns the response plus the parsed authorization and signature
// for reuse by Settle.
func (s *ExactScheme) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, *Authorization, string, error) {
	backend, ok := s.backends[requirements.Network]
	if !ok {
		return types.Invalid(types.ReasonUnsupportedNetwork, ""), nil, "", nil
	}
	if payload.Accepted.Scheme != types.SchemeExact {
		return types.Invalid(types.ReasonUnsupportedScheme, ""), nil, "", nil
	}
	if payload.Accepted.Network != requirements.Network {
		return types.Invalid(types.ReasonNetworkMismatch, ""), nil, "", nil
	}

	var wire ExactPayload
	if err := payload.DecodePayload(&wire); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, "", nil
	}
	auth, err := wire.Authorization.ToAuthorization()
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, "", nil
	}
	payer := auth.From.Hex()

	if auth.To != common.HexToAddress(requirements.PayTo) {
		return types.Invalid(types.ReasonRecipientMismatch, payer), nil, "", nil
	}
	if !addressesEqual(payload.Accepted.Asset, requirements.Asset) {
		return types.Invalid(types.ReasonAssetMismatch, payer), nil, "", nil
	}

	required, err := types.ParseAtomicAmount(requirements.Amount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, "", nil
	}
	// The authorized amount must equal the required amount. Overpaying is
	// rejected the same as underpaying.
	if auth.Value.Cmp(required) != 0 {
		return types.Invalid(types.ReasonAmountMismatch, payer), nil, "", nil
	}

	if s.signers.Manages(auth.From) {
		return types.Invalid(types.ReasonFeePayerTransferring, payer), nil, "", nil
	}

	token := common.HexToAddress(requirements.Asset)
	name, version := s.domainFor(requirements)
	recovered, err := RecoverAuthorizationSigner(wire.Signature, auth, token, backend.ChainID(), name, version)
	if err != nil || recovered != auth.From {
		return types.Invalid(types.ReasonInvalidSignature, payer), nil, "", nil
	}

	now := s.now().Unix()
	buffer := int64(constants.MinValidityBuffer / time.Second)
	if auth.ValidBefore.Int64() <= now+buffer || auth.ValidAfter.Int64() > now {
		return types.Invalid(types.ReasonAuthorizationExpired, payer), nil, "", nil
	}

	used, err := backend.AuthorizationUsed(ctx, token, auth.From, auth.Nonce)
	if err != nil {
		return nil, nil, "", types.NewVerifyError(types.ReasonNonceAlreadyUsed, payer, requirements.Network, err)
	}
	if used {
		return types.Invalid(types.ReasonNonceAlreadyUsed, payer), nil, "", nil
	}

	balance, err := backend.BalanceOf(ctx, token, auth.From)
	if err != nil {
		return nil, nil, "", types.NewVerifyError(types.ReasonInsufficientBalance, payer, requirements.Network, err)
	}
	if balance.Cmp(auth.Value) < 0 {
		return types.Invalid(types.ReasonInsufficientBalance, payer), nil, "", nil
	}

	data, err := s.packTransfer(auth, wire.Signature)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, "", nil
	}
	_, from := s.signers.Pick()
	if err := backend.Simulate(ctx, from, token, data); err != nil {
		return types.Invalid(fmt.Sprintf("%s: %v", types.ReasonSimulationFailed, err), payer), nil, "", nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, auth, wire.Signature, nil
}

func (s *ExactScheme) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	verifyResp, auth, signature, err := s.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return types.SettleFailure(verifyResp.InvalidReason, requirements.Network, verifyResp.Payer), nil
	}
	payer := verifyResp.Payer

	backend := s.backends[requirements.Network]
	token := common.HexToAddress(requirements.Asset)
	data, err := s.packTransfer(auth, signature)
	if err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, payer), nil
	}

	key, from := s.signers.Pick()
	txHash, err := backend.Execute(ctx, key, token, data)
	if err != nil {
		s.logger.Error("broadcast failed",
			"network", requirements.Network, "payer", payer, "error", err)
		return types.SettleFailure(types.ReasonBroadcastFailed, requirements.Network, payer), nil
	}
	s.logger.Info("payment broadcast",
		"network", requirements.Network, "tx", txHash.Hex(), "signer", from.Hex())

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout(requirements))
	defer cancel()
	ok, err := backend.WaitMined(confirmCtx, txHash)
	if err != nil {
		reason := types.ReasonConfirmationFailed
		if confirmCtx.Err() != nil {
			reason = types.ReasonConfirmationTimeout
		}
		resp := types.SettleFailure(reason, requirements.Network, payer)
		resp.Transaction = txHash.Hex()
		return resp, nil
	}
	if !ok {
		resp := types.SettleFailure(types.ReasonConfirmationFailed, requirements.Network, payer)
		resp.Transaction = txHash.Hex()
		return resp, nil
	}

	return &types.SettleResponse{
		Success:       true,
		Network:       requirements.Network,
		Transaction:   txHash.Hex(),
		Payer:         payer,
		SettledAmount: auth.Value.String(),
	}, nil
}

func (s *ExactScheme) packTransfer(auth *Authorization, signature string) ([]byte, error) {
	v, r, sigS, err := SplitSignature(signature)
	if err != nil {
		return nil, err
	}
	return tokenABI.Pack("transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, sigS)
}

func (s *ExactScheme) domainFor(requirements *types.PaymentRequirements) (name, version string) {
	name = requirements.Extra.Name
	version = requirements.Extra.Version
	if name == "" {
		if a, ok := networks.AssetByAddress(requirements.Network, requirements.Asset); ok {
			name = a.Name
		}
	}
	if version == "" {
		version = DefaultDomainVersion
	}
	return name, version
}

func addressesEqual(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

func confirmTimeout(requirements *types.PaymentRequirements) time.Duration {
	if requirements.MaxTimeoutSeconds > 0 {
		return time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	return constants.DefaultConfirmTimeout
}
