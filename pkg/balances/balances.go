// Package balances aggregates stablecoin balances for one owner across many
// networks. Fetchers fan out concurrently; a failing network reports its
// error inline in its own slot and never fails the aggregate.
package balances

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/utils"
)

// AssetBalance is one token balance on one network.
type AssetBalance struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	// Amount is the balance in smallest units.
	Amount *big.Int `json:"amount"`
	// Display is the human-readable decimal amount.
	Display string `json:"display"`
}

// NetworkBalance is the per-network slot of an aggregate. Either Assets or
// Error is populated.
type NetworkBalance struct {
	Network string         `json:"network"`
	Name    string         `json:"name,omitempty"`
	Assets  []AssetBalance `json:"assets,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Aggregate is the cross-network balance view.
type Aggregate struct {
	// Totals sums smallest-unit amounts per symbol across networks. All
	// supported stablecoins share 6 decimals, so the sums are comparable.
	Totals map[string]*big.Int `json:"totals"`
	// Networks is the per-chain breakdown, ordered by network id.
	Networks []NetworkBalance `json:"networks"`
}

// Fetcher reads one network's balances for a fixed owner.
type Fetcher interface {
	Network() string
	Balances(ctx context.Context) ([]AssetBalance, error)
}

// Aggregator fans a balance query out over its fetchers.
type Aggregator struct {
	fetchers []Fetcher
	logger   *slog.Logger
}

// NewAggregator builds an aggregator over the given fetchers.
func NewAggregator(fetchers []Fetcher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{fetchers: fetchers, logger: logger}
}

// Fetch queries every network concurrently and merges the results.
func (a *Aggregator) Fetch(ctx context.Context) *Aggregate {
	slots := make([]NetworkBalance, len(a.fetchers))

	var wg sync.WaitGroup
	for i, fetcher := range a.fetchers {
		wg.Add(1)
		go func(i int, fetcher Fetcher) {
			defer wg.Done()
			slot := NetworkBalance{Network: fetcher.Network()}
			if n, ok := networks.Lookup(slot.Network); ok {
				slot.Name = n.Name
			}
			assets, err := fetcher.Balances(ctx)
			if err != nil {
				a.logger.Warn("balance fetch failed",
					"network", slot.Network, "error", err)
				slot.Error = err.Error()
			} else {
				slot.Assets = assets
			}
			slots[i] = slot
		}(i, fetcher)
	}
	wg.Wait()

	sort.Slice(slots, func(i, j int) bool { return slots[i].Network < slots[j].Network })

	totals := make(map[string]*big.Int)
	for _, slot := range slots {
		for _, asset := range slot.Assets {
			if asset.Amount == nil {
				continue
			}
			total, ok := totals[asset.Symbol]
			if !ok {
				total = new(big.Int)
				totals[asset.Symbol] = total
			}
			total.Add(total, asset.Amount)
		}
	}

	return &Aggregate{Totals: totals, Networks: slots}
}

// assetBalance fills in the display form of a fetched amount.
func assetBalance(asset networks.Asset, amount *big.Int) AssetBalance {
	return AssetBalance{
		Asset:    asset.Address,
		Symbol:   asset.Symbol,
		Decimals: asset.Decimals,
		Amount:   amount,
		Display:  utils.FromAtomic(amount, asset.Decimals),
	}
}
