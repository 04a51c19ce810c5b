package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sigweihq/t402pay/pkg/constants"
)

// Backend is the chain surface the EVM schemes need. The production
// implementation wraps an ethclient; tests substitute a fake.
type Backend interface {
	ChainID() *big.Int

	// BalanceOf returns the ERC-20 balance of owner.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// AuthorizationUsed reports whether an EIP-3009 nonce has been consumed.
	AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)

	// PermitNonce returns the current EIP-2612 nonce of owner.
	PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// Simulate runs data against to via eth_call from the given sender.
	Simulate(ctx context.Context, from, to common.Address, data []byte) error

	// Execute signs, broadcasts and returns the hash of a transaction
	// carrying data to the contract at to.
	Execute(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte) (common.Hash, error)

	// WaitMined blocks until the transaction is mined or ctx expires and
	// reports whether it succeeded.
	WaitMined(ctx context.Context, tx common.Hash) (bool, error)
}

const tokenABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"nonces","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"authorizationState","type":"function","stateMutability":"view","inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferWithAuthorization","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"permit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

const routerABIJSON = `[
	{"name":"settlePayment","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"owner","type":"address"},{"name":"recipient","type":"address"},{"name":"permitValue","type":"uint256"},{"name":"settleValue","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"},{"name":"paymentNonce","type":"bytes32"}],"outputs":[]}
]`

var (
	tokenABI  = mustParseABI(tokenABIJSON)
	routerABI = mustParseABI(routerABIJSON)
)

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return parsed
}

// RPCBackend implements Backend over an ethclient connection.
type RPCBackend struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewRPCBackend dials the endpoint and caches the chain id.
func NewRPCBackend(ctx context.Context, endpoint string) (*RPCBackend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return &RPCBackend{client: client, chainID: chainID}, nil
}

func (b *RPCBackend) ChainID() *big.Int { return b.chainID }

func (b *RPCBackend) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	return tokenABI.Unpack(method, raw)
}

func (b *RPCBackend) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := b.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", out[0])
	}
	return balance, nil
}

func (b *RPCBackend) AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	out, err := b.call(ctx, token, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	used, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected authorizationState return type %T", out[0])
	}
	return used, nil
}

func (b *RPCBackend) PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := b.call(ctx, token, "nonces", owner)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonces return type %T", out[0])
	}
	return nonce, nil
}

func (b *RPCBackend) Simulate(ctx context.Context, from, to common.Address, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	_, err := b.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	return err
}

func (b *RPCBackend) Execute(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.BroadcastTimeout)
	defer cancel()

	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch account nonce: %w", err)
	}
	gasTipCap, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas tip cap: %w", err)
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch head block: %w", err)
	}
	gasFeeCap := new(big.Int).Add(gasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(b.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (b *RPCBackend) WaitMined(ctx context.Context, tx common.Hash) (bool, error) {
	ticker := time.NewTicker(constants.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.client.TransactionReceipt(ctx, tx)
		if err == nil {
			return receipt.Status == ethtypes.ReceiptStatusSuccessful, nil
		}
		if err != ethereum.NotFound {
			return false, fmt.Errorf("failed to fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
