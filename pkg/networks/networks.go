// Package networks is the immutable network and asset registry. It maps
// CAIP-2 identifiers to chain families, default RPC endpoints and the known
// stablecoin deployments per network. It performs no I/O.
package networks

import "strings"

// Chain families, used as the prefix of a CAIP-2 identifier.
const (
	FamilyEVM  = "eip155"
	FamilySVM  = "solana"
	FamilyTON  = "ton"
	FamilyTRON = "tron"
)

// CAIP-2 network identifiers.
const (
	Ethereum        = "eip155:1"
	Optimism        = "eip155:10"
	Unichain        = "eip155:130"
	Polygon         = "eip155:137"
	Base            = "eip155:8453"
	Arbitrum        = "eip155:42161"
	Ink             = "eip155:57073"
	Berachain       = "eip155:80094"
	ArbitrumSepolia = "eip155:421614"
	BaseSepolia     = "eip155:84532"

	SolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnet = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	TonMainnet = "ton:mainnet"
	TonTestnet = "ton:testnet"

	TronMainnet = "tron:mainnet"
	TronNile    = "tron:nile"
	TronShasta  = "tron:shasta"
)

// Asset describes a known token deployment on one network.
type Asset struct {
	Address         string
	Symbol          string
	Name            string
	Decimals        int
	SupportsEIP3009 bool
}

// Network describes one supported network.
type Network struct {
	ID       string // CAIP-2 identifier
	Name     string
	Family   string
	ChainID  int64  // EVM only
	Endpoint string // default RPC/API endpoint
	Testnet  bool
	Assets   []Asset
}

var registry = map[string]Network{
	Ethereum: {
		ID: Ethereum, Name: "ethereum", Family: FamilyEVM, ChainID: 1,
		Endpoint: "https://eth.drpc.org",
		Assets: []Asset{
			{Address: "0x6C96dE32CEa08842dcc4058c14d3aaAD7Fa41dee", Symbol: "USDT0", Name: "TetherToken", Decimals: 6, SupportsEIP3009: true},
			{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Name: "USD Coin", Decimals: 6, SupportsEIP3009: true},
			{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		},
	},
	Optimism: {
		ID: Optimism, Name: "optimism", Family: FamilyEVM, ChainID: 10,
		Endpoint: "https://mainnet.optimism.io",
		Assets: []Asset{
			{Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Symbol: "USDC", Name: "USD Coin", Decimals: 6, SupportsEIP3009: true},
		},
	},
	Unichain: {
		ID: Unichain, Name: "unichain", Family: FamilyEVM, ChainID: 130,
		Endpoint: "https://mainnet.unichain.org",
		Assets: []Asset{
			{Address: "0x588ce4F028D8e7B53B687865d6A67b3A54C75518", Symbol: "USDT0", Name: "TetherToken", Decimals: 6, SupportsEIP3009: true},
		},
	},
	Polygon: {
		ID: Polygon, Name: "polygon", Family: FamilyEVM, ChainID: 137,
		Endpoint: "https://polygon-rpc.com",
		Assets: []Asset{
			{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Name: "USD Coin", Decimals: 6, SupportsEIP3009: true},
			{Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		},
	},
	Base: {
		ID: Base, Name: "base", Family: FamilyEVM, ChainID: 8453,
		Endpoint: "https://mainnet.base.org",
		Assets: []Asset{
			{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Name: "USD Coin", Decimals: 6, SupportsEIP3009: true},
		},
	},
	Arbitrum: {
		ID: Arbitrum, Name: "arbitrum", Family: FamilyEVM, ChainID: 42161,
		Endpoint: "https://arb1.arbitrum.io/rpc",
		Assets: []Asset{
			{Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Symbol: "USDT0", Name: "TetherToken", Decimals: 6, SupportsEIP3009: true},
			{Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Name: "USD Coin", Decimals: 6, SupportsEIP3009: true},
		},
	},
	Ink: {
		ID: Ink, Name: "ink", Family: FamilyEVM, ChainID: 57073,
		Endpoint: "https://rpc-gel.inkonchain.com",
		Assets: []Asset{
			{Address: "0x0200C29006150606B650577BBE7B6248F58470c1", Symbol: "USDT0", Name: "TetherToken", Decimals: 6, SupportsEIP3009: true},
		},
	},
	Berachain: {
		ID: Berachain, Name: "berachain", Family: FamilyEVM, ChainID: 80094,
		Endpoint: "https://rpc.berachain.com",
		Assets: []Asset{
			{Address: "0x779Ded0c9e1022225f8E0630b35a9b54bE713736", Symbol: "USDT0", Name: "TetherToken", Decimals: 6, SupportsEIP3009: true},
		},
	},
	ArbitrumSepolia: {
		ID: ArbitrumSepolia, Name: "arbitrum-sepolia", Family: FamilyEVM, ChainID: 421614,
		Endpoint: "https://sepolia-rollup.arbitrum.io/rpc", Testnet: true,
	},
	BaseSepolia: {
		ID: BaseSepolia, Name: "base-sepolia", Family: FamilyEVM, ChainID: 84532,
		Endpoint: "https://sepolia.base.org", Testnet: true,
		Assets: []Asset{
			{Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Symbol: "USDC", Name: "USDC", Decimals: 6, SupportsEIP3009: true},
		},
	},

	SolanaMainnet: {
		ID: SolanaMainnet, Name: "solana", Family: FamilySVM,
		Endpoint: "https://api.mainnet-beta.solana.com",
		Assets: []Asset{
			{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		},
	},
	SolanaDevnet: {
		ID: SolanaDevnet, Name: "solana-devnet", Family: FamilySVM,
		Endpoint: "https://api.devnet.solana.com", Testnet: true,
		Assets: []Asset{
			{Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		},
	},
	SolanaTestnet: {
		ID: SolanaTestnet, Name: "solana-testnet", Family: FamilySVM,
		Endpoint: "https://api.testnet.solana.com", Testnet: true,
		Assets: []Asset{
			{Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		},
	},

	TonMainnet: {
		ID: TonMainnet, Name: "ton", Family: FamilyTON,
		Endpoint: "https://toncenter.com/api/v2/jsonRPC",
		Assets: []Asset{
			{Address: "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		},
	},
	TonTestnet: {
		ID: TonTestnet, Name: "ton-testnet", Family: FamilyTON,
		Endpoint: "https://testnet.toncenter.com/api/v2/jsonRPC", Testnet: true,
		Assets: []Asset{
			{Address: "kQBqSpvo4S87mX9tTc4FX3Sfqf4uSp3Tx-Fz4RBUfTRWBx", Symbol: "USDT", Name: "Tether USD (Testnet)", Decimals: 6},
		},
	},

	TronMainnet: {
		ID: TronMainnet, Name: "tron", Family: FamilyTRON,
		Endpoint: "https://api.trongrid.io",
		Assets: []Asset{
			{Address: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
		},
	},
	TronNile: {
		ID: TronNile, Name: "tron-nile", Family: FamilyTRON,
		Endpoint: "https://api.nileex.io", Testnet: true,
		Assets: []Asset{
			{Address: "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", Symbol: "USDT", Name: "Tether USD (Nile)", Decimals: 6},
		},
	},
	TronShasta: {
		ID: TronShasta, Name: "tron-shasta", Family: FamilyTRON,
		Endpoint: "https://api.shasta.trongrid.io", Testnet: true,
		Assets: []Asset{
			{Address: "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs", Symbol: "USDT", Name: "Tether USD (Shasta)", Decimals: 6},
		},
	},
}

var nameToID = func() map[string]string {
	m := make(map[string]string, len(registry))
	for id, n := range registry {
		m[n.Name] = id
	}
	return m
}()

// Lookup returns the network for a CAIP-2 identifier.
func Lookup(id string) (Network, bool) {
	n, ok := registry[id]
	return n, ok
}

// Normalize accepts a CAIP-2 identifier or a short chain name ("base",
// "arbitrum") and returns the canonical CAIP-2 identifier.
func Normalize(network string) (string, bool) {
	if _, ok := registry[network]; ok {
		return network, true
	}
	if id, ok := nameToID[strings.ToLower(network)]; ok {
		return id, true
	}
	return "", false
}

// Family returns the chain family prefix of a CAIP-2 identifier. The
// identifier does not need to be registered; any well-formed id works.
func Family(network string) string {
	if i := strings.IndexByte(network, ':'); i > 0 {
		return network[:i]
	}
	return ""
}

// IsTestnet reports whether the network is a registered testnet.
func IsTestnet(network string) bool {
	n, ok := registry[network]
	return ok && n.Testnet
}

// AssetByAddress finds a known asset on a network by its address. EVM
// addresses compare case-insensitively.
func AssetByAddress(network, address string) (Asset, bool) {
	n, ok := registry[network]
	if !ok {
		return Asset{}, false
	}
	for _, a := range n.Assets {
		if a.Address == address {
			return a, true
		}
		if n.Family == FamilyEVM && strings.EqualFold(a.Address, address) {
			return a, true
		}
	}
	return Asset{}, false
}

// AssetBySymbol finds a known asset on a network by symbol.
func AssetBySymbol(network, symbol string) (Asset, bool) {
	n, ok := registry[network]
	if !ok {
		return Asset{}, false
	}
	symbol = strings.ToUpper(symbol)
	for _, a := range n.Assets {
		if strings.ToUpper(a.Symbol) == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// All returns every registered network id.
func All() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
