// Package facilitator orchestrates verify and settle requests: it validates
// the envelope, routes to the scheme implementation that owns the (scheme,
// network) pair and records the outcome.
package facilitator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sigweihq/t402pay/pkg/metrics"
	"github.com/sigweihq/t402pay/pkg/schemes"
	"github.com/sigweihq/t402pay/pkg/types"
	"github.com/sigweihq/t402pay/pkg/utils"
)

// ReasonUnexpectedError is used when a scheme fails in a way that maps to no
// protocol reason.
const ReasonUnexpectedError = "unexpected_error"

// Facilitator routes payments to registered schemes.
type Facilitator struct {
	registry *schemes.Registry
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// New builds a facilitator. logger and recorder may be nil.
func New(registry *schemes.Registry, logger *slog.Logger, recorder metrics.Recorder) *Facilitator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Facilitator{registry: registry, logger: logger, metrics: recorder}
}

// Verify checks a payment payload against requirements. Every failure mode
// comes back as an invalid response; the error return is reserved for context
// cancellation.
func (f *Facilitator) Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	started := time.Now()
	labels := f.labels(requirements)

	resp := f.verify(ctx, payload, requirements)

	f.metrics.IncCounter("verify_"+outcome(resp.IsValid), labels)
	f.metrics.ObserveLatency("verify", time.Since(started), labels)
	if !resp.IsValid {
		f.logger.Info("payment rejected",
			"scheme", requirements.Scheme, "network", requirements.Network,
			"reason", resp.InvalidReason)
	}
	return resp, ctx.Err()
}

func (f *Facilitator) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerifyResponse {
	if err := utils.ValidateRequirements(requirements); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, "")
	}
	if err := utils.ValidatePayload(payload); err != nil {
		return types.Invalid(types.ReasonInvalidPayloadStructure, "")
	}

	impl, err := f.registry.Get(requirements.Scheme, requirements.Network)
	if err != nil {
		return types.Invalid(f.routingReason(requirements), "")
	}

	resp, err := impl.Verify(ctx, payload, requirements)
	if err != nil {
		return f.verifyFault(err, requirements)
	}
	return resp
}

// Settle executes a payment. settleAmount is empty for exact payments; for
// upto payments it is the metered amount to settle, with optional usage
// attached to the audit log.
func (f *Facilitator) Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements, settleAmount string, usage *types.UsageDetails) (*types.SettleResponse, error) {
	started := time.Now()
	labels := f.labels(requirements)

	resp := f.settle(ctx, payload, requirements, settleAmount, usage)

	f.metrics.IncCounter("settle_"+outcome(resp.Success), labels)
	f.metrics.ObserveLatency("settle", time.Since(started), labels)
	if resp.Success {
		f.logger.Info("payment settled",
			"scheme", requirements.Scheme, "network", requirements.Network,
			"transaction", resp.Transaction, "amount", resp.SettledAmount)
	} else {
		f.logger.Warn("settlement failed",
			"scheme", requirements.Scheme, "network", requirements.Network,
			"reason", resp.ErrorReason)
	}
	return resp, ctx.Err()
}

func (f *Facilitator) settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements, settleAmount string, usage *types.UsageDetails) *types.SettleResponse {
	if err := utils.ValidateRequirements(requirements); err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, "")
	}
	if err := utils.ValidatePayload(payload); err != nil {
		return types.SettleFailure(types.ReasonInvalidPayloadStructure, requirements.Network, "")
	}

	impl, err := f.registry.Get(requirements.Scheme, requirements.Network)
	if err != nil {
		return types.SettleFailure(f.routingReason(requirements), requirements.Network, "")
	}

	var resp *types.SettleResponse
	if settleAmount != "" {
		metered, ok := impl.(schemes.MeteredFacilitatorScheme)
		if !ok {
			return types.SettleFailure(types.ReasonUnsupportedScheme, requirements.Network, "")
		}
		resp, err = metered.SettleAmount(ctx, payload, requirements, settleAmount, usage)
	} else {
		resp, err = impl.Settle(ctx, payload, requirements)
	}
	if err != nil {
		return f.settleFault(err, requirements)
	}
	return resp
}

// SupportedKinds enumerates the advertisable (scheme, network) pairs.
func (f *Facilitator) SupportedKinds() []schemes.Kind {
	return f.registry.SupportedKinds()
}

// SignersByFamily groups facilitator signer addresses by CAIP family.
func (f *Facilitator) SignersByFamily() map[string][]string {
	return f.registry.SignersByFamily()
}

// routingReason distinguishes an unknown scheme from a scheme that exists but
// does not cover the network.
func (f *Facilitator) routingReason(requirements *types.PaymentRequirements) string {
	if !f.registry.HasScheme(requirements.Scheme) {
		return types.ReasonUnsupportedScheme
	}
	return types.ReasonUnsupportedNetwork
}

func (f *Facilitator) verifyFault(err error, requirements *types.PaymentRequirements) *types.VerifyResponse {
	f.logger.Error("verification fault",
		"scheme", requirements.Scheme, "network", requirements.Network, "error", err)
	var ve *types.VerifyError
	if errors.As(err, &ve) {
		return types.Invalid(ve.Reason, ve.Payer)
	}
	return types.Invalid(ReasonUnexpectedError, "")
}

func (f *Facilitator) settleFault(err error, requirements *types.PaymentRequirements) *types.SettleResponse {
	f.logger.Error("settlement fault",
		"scheme", requirements.Scheme, "network", requirements.Network, "error", err)
	var se *types.SettleError
	if errors.As(err, &se) {
		resp := types.SettleFailure(se.Reason, requirements.Network, se.Payer)
		resp.Transaction = se.Transaction
		return resp
	}
	var ve *types.VerifyError
	if errors.As(err, &ve) {
		return types.SettleFailure(ve.Reason, requirements.Network, ve.Payer)
	}
	return types.SettleFailure(ReasonUnexpectedError, requirements.Network, "")
}

func (f *Facilitator) labels(requirements *types.PaymentRequirements) map[string]string {
	return map[string]string{
		"scheme":  requirements.Scheme,
		"network": requirements.Network,
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
