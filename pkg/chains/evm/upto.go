package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigweihq/t402pay/pkg/constants"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/types"
)

// UptoScheme verifies EIP-2612 permits naming the settlement router as
// spender and settles a caller-chosen amount through the router. The permit
// authorizes the maximum; the router transfers the settled portion.
type UptoScheme struct {
	backends map[string]Backend
	signers  *SignerPool
	routers  map[string]common.Address // network -> settlement router
	logger   *slog.Logger
	now      func() time.Time
}

// NewUptoScheme builds the upto EVM scheme. routers maps each served network
// to its settlement router contract.
func NewUptoScheme(backends map[string]Backend, signers *SignerPool, routers map[string]common.Address, logger *slog.Logger) *UptoScheme {
	if logger == nil {
		logger = slog.Default()
	}
	return &UptoScheme{
		backends: backends,
		signers:  signers,
		routers:  routers,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *UptoScheme) Scheme() string     { return types.SchemeUpto }
func (s *UptoScheme) CaipFamily() string { return networks.FamilyEVM }

func (s *UptoScheme) GetExtra(network string) map[string]any {
	router, ok := s.routers[network]
	if !ok {
		return nil
	}
	extra := map[string]any{"routerAddress": router.Hex(), "version": DefaultDomainVersion}
	if n, ok := networks.Lookup(network); ok && len(n.Assets) > 0 {
		extra["name"] = n.Assets[0].Name
	}
	return extra
}

func (s *UptoScheme) GetSigners(network string) []string {
	return s.signers.Addresses()
}

func (s *UptoScheme) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, _, err := s.verify(ctx, payload, requirements)
	return resp, err
}

func (s *UptoScheme) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, *UptoPayload, error) {
	backend, ok := s.backends[requirements.Network]
	if !ok {
		return types.Invalid(types.ReasonUnsupportedNetwork, ""), nil, nil
	}
	router, ok := s.routers[requirements.Network]
	if !ok {
		return types.Invalid(types.ReasonUnsupportedNetwork, ""), nil, nil
	}
	if payload.Accepted.Scheme != types.SchemeUpto {
		return types.Invalid(types.ReasonUnsupportedScheme, ""), nil, nil
	}
	if payload.Accepted.Network != requirements.Network {
		return types.Invalid(types.ReasonNetworkMismatch, ""), nil, nil
	}

	var wire UptoPayload
	if err := payload.DecodePayload(&wire); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	permit, err := wire.Authorization.ToPermit()
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, ""), nil, nil
	}
	payer := permit.Owner.Hex()

	if permit.Spender != router {
		return types.Invalid(types.ReasonRecipientMismatch, payer), nil, nil
	}
	if !addressesEqual(payload.Accepted.Asset, requirements.Asset) {
		return types.Invalid(types.ReasonAssetMismatch, payer), nil, nil
	}

	maxAmount, err := types.ParseAtomicAmount(requirements.MaxAmount)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, payer), nil, nil
	}
	// The permit must authorize exactly the advertised maximum.
	if permit.Value.Cmp(maxAmount) != 0 {
		return types.Invalid(types.ReasonAmountMismatch, payer), nil, nil
	}

	if s.signers.Manages(permit.Owner) {
		return types.Invalid(types.ReasonFeePayerTransferring, payer), nil, nil
	}

	now := s.now().Unix()
	buffer := int64(constants.MinValidityBuffer / time.Second)
	if permit.Deadline.Int64() <= now+buffer {
		return types.Invalid(types.ReasonAuthorizationExpired, payer), nil, nil
	}

	token := common.HexToAddress(requirements.Asset)
	name, version := s.domainFor(requirements)
	sigHex, err := wire.Signature.CombinedSignature()
	if err != nil {
		return types.Invalid(types.ReasonInvalidSignature, payer), nil, nil
	}
	recovered, err := RecoverPermitSigner(sigHex, permit, token, backend.ChainID(), name, version)
	if err != nil || recovered != permit.Owner {
		return types.Invalid(types.ReasonInvalidSignature, payer), nil, nil
	}

	// The permit only settles if its nonce is still the contract's current
	// one; a stale nonce means a newer permit already consumed it.
	onchainNonce, err := backend.PermitNonce(ctx, token, permit.Owner)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonPermitNonceMismatch, payer, requirements.Network, err)
	}
	if onchainNonce.Cmp(permit.Nonce) != 0 {
		return types.Invalid(types.ReasonPermitNonceMismatch, payer), nil, nil
	}

	balance, err := backend.BalanceOf(ctx, token, permit.Owner)
	if err != nil {
		return nil, nil, types.NewVerifyError(types.ReasonInsufficientBalance, payer, requirements.Network, err)
	}
	if balance.Cmp(maxAmount) < 0 {
		return types.Invalid(types.ReasonInsufficientBalance, payer), nil, nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: payer}, &wire, nil
}

// Settle settles the full authorized maximum.
func (s *UptoScheme) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	return s.SettleAmount(ctx, payload, requirements, requirements.MaxAmount, nil)
}

// SettleAmount settles exactly settleAmount through the router. A zero
// amount still runs the router call so the permit nonce is consumed.
func (s *UptoScheme) SettleAmount(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements, settleAmount string, usage *types.UsageDetails) (*types.SettleResponse, error) {
	settle, err := types.ParseAtomicAmount(settleAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid settle amount: %w", err)
	}
	maxAmount, err := types.ParseAtomicAmount(requirements.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid maxAmount in requirements: %w", err)
	}
	// Over-settling must never reach the chain.
	if settle.Cmp(maxAmount) > 0 {
		return types.SettleFailure(types.ReasonSettleAmountTooHigh, requirements.Network, ""), nil
	}
	if requirements.MinAmount != "" && settle.Sign() != 0 {
		minAmount, err := types.ParseAtomicAmount(requirements.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid minAmount in requirements: %w", err)
		}
		if settle.Cmp(minAmount) < 0 {
			return types.SettleFailure(types.ReasonSettleAmountTooLow, requirements.Network, ""), nil
		}
	}

	verifyResp, wire, err := s.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return types.SettleFailure(verifyResp.InvalidReason, requirements.Network, verifyResp.Payer), nil
	}
	payer := verifyResp.Payer

	backend := s.backends[requirements.Network]
	router := s.routers[requirements.Network]
	permit, err := wire.Authorization.ToPermit()
	if err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, payer), nil
	}

	data, err := s.packSettle(requirements, permit, &wire.Signature, settle, wire.PaymentNonce)
	if err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, payer), nil
	}

	key, from := s.signers.Pick()
	if err := backend.Simulate(ctx, from, router, data); err != nil {
		return types.SettleFailure(fmt.Sprintf("%s: %v", types.ReasonSimulationFailed, err), requirements.Network, payer), nil
	}

	txHash, err := backend.Execute(ctx, key, router, data)
	if err != nil {
		s.logger.Error("router settlement broadcast failed",
			"network", requirements.Network, "payer", payer, "error", err)
		return types.SettleFailure(types.ReasonBroadcastFailed, requirements.Network, payer), nil
	}
	if usage != nil {
		s.logger.Info("metered settlement",
			"network", requirements.Network, "tx", txHash.Hex(),
			"settleAmount", settle.String(), "unitsConsumed", usage.UnitsConsumed)
	}

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
		SettledAmount: settle.String(),
	}, nil
}

func (s *UptoScheme) packSettle(requirements *types.PaymentRequirements, permit *Permit, sig *PermitSignature, settle *big.Int, paymentNonce string) ([]byte, error) {
	v := sig.V
	if v < 27 {
		v += 27
	}
	var r, sv [32]byte
	copy(r[:], common.FromHex(sig.R))
	copy(sv[:], common.FromHex(sig.S))
	var nonce [32]byte
	copy(nonce[:], common.FromHex(paymentNonce))

	return routerABI.Pack("settlePayment",
		common.HexToAddress(requirements.Asset),
		permit.Owner,
		common.HexToAddress(requirements.PayTo),
		permit.Value,
		settle,
		permit.Deadline,
		uint8(v),
		r, sv, nonce)
}

func (s *UptoScheme) domainFor(requirements *types.PaymentRequirements) (name, version string) {
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
