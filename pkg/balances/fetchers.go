package balances

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/t402pay/pkg/chains/evm"
	"github.com/sigweihq/t402pay/pkg/chains/svm"
	"github.com/sigweihq/t402pay/pkg/chains/ton"
	"github.com/sigweihq/t402pay/pkg/chains/tron"
	"github.com/sigweihq/t402pay/pkg/networks"
)

// NewFetcher builds a fetcher for the owner's known assets on one network,
// dispatching on the network's chain family.
func NewFetcher(network string, owner string, backend any) (Fetcher, error) {
	n, ok := networks.Lookup(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %s", network)
	}
	switch n.Family {
	case networks.FamilyEVM:
		b, ok := backend.(evm.Backend)
		if !ok {
			return nil, fmt.Errorf("network %s needs an evm backend", network)
		}
		if !common.IsHexAddress(owner) {
			return nil, fmt.Errorf("invalid owner address %q for %s", owner, network)
		}
		return &evmFetcher{network: n, backend: b, owner: common.HexToAddress(owner)}, nil
	case networks.FamilySVM:
		b, ok := backend.(svm.Backend)
		if !ok {
			return nil, fmt.Errorf("network %s needs an svm backend", network)
		}
		pub, err := solana.PublicKeyFromBase58(owner)
		if err != nil {
			return nil, fmt.Errorf("invalid owner address %q for %s: %w", owner, network, err)
		}
		return &svmFetcher{network: n, backend: b, owner: pub}, nil
	case networks.FamilyTON:
		b, ok := backend.(ton.Backend)
		if !ok {
			return nil, fmt.Errorf("network %s needs a ton backend", network)
		}
		if !ton.ValidAddress(owner) {
			return nil, fmt.Errorf("invalid owner address %q for %s", owner, network)
		}
		return &tonFetcher{network: n, backend: b, owner: owner}, nil
	case networks.FamilyTRON:
		b, ok := backend.(tron.Backend)
		if !ok {
			return nil, fmt.Errorf("network %s needs a tron backend", network)
		}
		if !tron.ValidAddress(owner) {
			return nil, fmt.Errorf("invalid owner address %q for %s", owner, network)
		}
		return &tronFetcher{network: n, backend: b, owner: owner}, nil
	default:
		return nil, fmt.Errorf("unsupported chain family %s", n.Family)
	}
}

type evmFetcher struct {
	network networks.Network
	backend evm.Backend
	owner   common.Address
}

func (f *evmFetcher) Network() string { return f.network.ID }

func (f *evmFetcher) Balances(ctx context.Context) ([]AssetBalance, error) {
	out := make([]AssetBalance, 0, len(f.network.Assets))
	for _, asset := range f.network.Assets {
		amount, err := f.backend.BalanceOf(ctx, common.HexToAddress(asset.Address), f.owner)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", asset.Symbol, err)
		}
		out = append(out, assetBalance(asset, amount))
	}
	return out, nil
}

type svmFetcher struct {
	network networks.Network
	backend svm.Backend
	owner   solana.PublicKey
}

func (f *svmFetcher) Network() string { return f.network.ID }

func (f *svmFetcher) Balances(ctx context.Context) ([]AssetBalance, error) {
	out := make([]AssetBalance, 0, len(f.network.Assets))
	for _, asset := range f.network.Assets {
		mint, err := solana.PublicKeyFromBase58(asset.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid mint %s: %w", asset.Address, err)
		}
		ata, _, err := solana.FindAssociatedTokenAddress(f.owner, mint)
		if err != nil {
			return nil, err
		}
		amount, err := f.backend.TokenBalance(ctx, ata)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", asset.Symbol, err)
		}
		out = append(out, assetBalance(asset, amount))
	}
	return out, nil
}

type tonFetcher struct {
	network networks.Network
	backend ton.Backend
	owner   string
}

func (f *tonFetcher) Network() string { return f.network.ID }

func (f *tonFetcher) Balances(ctx context.Context) ([]AssetBalance, error) {
	out := make([]AssetBalance, 0, len(f.network.Assets))
	for _, asset := range f.network.Assets {
		deployed, err := f.backend.IsDeployed(ctx, f.owner)
		if err != nil {
			return nil, err
		}
		amount := new(big.Int)
		if deployed {
			amount, err = f.backend.JettonBalance(ctx, f.owner, asset.Address)
			if err != nil {
				return nil, fmt.Errorf("%s balance: %w", asset.Symbol, err)
			}
		}
		out = append(out, assetBalance(asset, amount))
	}
	return out, nil
}

type tronFetcher struct {
	network networks.Network
	backend tron.Backend
	owner   string
}

func (f *tronFetcher) Network() string { return f.network.ID }

func (f *tronFetcher) Balances(ctx context.Context) ([]AssetBalance, error) {
	out := make([]AssetBalance, 0, len(f.network.Assets))
	for _, asset := range f.network.Assets {
		amount, err := f.backend.BalanceOf(ctx, f.owner, asset.Address)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", asset.Symbol, err)
		}
		out = append(out, assetBalance(asset, amount))
	}
	return out, nil
}
