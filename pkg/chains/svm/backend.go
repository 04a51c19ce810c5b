package svm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/sigweihq/t402pay/pkg/constants"
)

// Backend is the chain surface the SVM scheme needs.
type Backend interface {
	// Simulate runs the fully signed transaction without submitting it.
	Simulate(ctx context.Context, tx *solana.Transaction) error

	// Send broadcasts the transaction and returns its signature.
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// Confirm blocks until the signature reaches confirmed commitment or
	// ctx expires.
	Confirm(ctx context.Context, sig solana.Signature) error

	// TokenBalance returns the token balance of an associated token account.
	// A missing account reports a zero balance.
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (*big.Int, error)
}

// RPCBackend implements Backend over a solana-go JSON-RPC client.
type RPCBackend struct {
	client *rpc.Client
}

// NewRPCBackend connects to the given RPC endpoint.
func NewRPCBackend(endpoint string) *RPCBackend {
	return &RPCBackend{client: rpc.New(endpoint)}
}

func (b *RPCBackend) Simulate(ctx context.Context, tx *solana.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	out, err := b.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("simulation request failed: %w", err)
	}
	if out.Value != nil && out.Value.Err != nil {
		return fmt.Errorf("simulation failed: %v", out.Value.Err)
	}
	return nil
}

func (b *RPCBackend) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.BroadcastTimeout)
	defer cancel()

	sig, err := b.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

func (b *RPCBackend) Confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(constants.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := b.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *RPCBackend) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	out, err := b.client.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		// an account that does not exist yet holds nothing
		return big.NewInt(0), nil
	}
	if out.Value == nil {
		return big.NewInt(0), nil
	}
	balance, ok := new(big.Int).SetString(out.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance amount %q", out.Value.Amount)
	}
	return balance, nil
}
