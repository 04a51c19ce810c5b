package networks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantOK  bool
	}{
		{"caip2 passthrough", "eip155:8453", Base, true},
		{"chain name", "base", Base, true},
		{"chain name uppercase", "ARBITRUM", Arbitrum, true},
		{"solana genesis hash", SolanaMainnet, SolanaMainnet, true},
		{"ton name", "ton", TonMainnet, true},
		{"tron testnet", "tron-nile", TronNile, true},
		{"unknown", "eip155:99999", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFamily(t *testing.T) {
	assert.Equal(t, FamilyEVM, Family("eip155:1"))
	assert.Equal(t, FamilySVM, Family(SolanaDevnet))
	assert.Equal(t, FamilyTON, Family("ton:mainnet"))
	assert.Equal(t, FamilyTRON, Family("tron:shasta"))
	assert.Equal(t, "", Family("no-colon"))
}

func TestIsTestnet(t *testing.T) {
	assert.False(t, IsTestnet(Ethereum))
	assert.False(t, IsTestnet(TronMainnet))
	assert.True(t, IsTestnet(BaseSepolia))
	assert.True(t, IsTestnet(SolanaDevnet))
	assert.True(t, IsTestnet(TonTestnet))
	assert.True(t, IsTestnet(TronNile))
	assert.False(t, IsTestnet("eip155:99999"))
}

func TestAssetByAddress(t *testing.T) {
	a, ok := AssetByAddress(Base, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	require.True(t, ok)
	assert.Equal(t, "USDC", a.Symbol)
	assert.Equal(t, 6, a.Decimals)
	assert.True(t, a.SupportsEIP3009)

	// EVM addresses match case-insensitively
	a, ok = AssetByAddress(Base, "0X833589FCD6EDB6E08F4C7C32D4F71B54BDA02913")
	require.True(t, ok)
	assert.Equal(t, "USDC", a.Symbol)

	// non-EVM addresses are case-sensitive
	_, ok = AssetByAddress(TronMainnet, "tr7nhqjekqxgtci8q8zy4pl8otszgjlj6t")
	assert.False(t, ok)

	a, ok = AssetByAddress(TronMainnet, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.True(t, ok)
	assert.Equal(t, "USDT", a.Symbol)
}

func TestAssetBySymbol(t *testing.T) {
	a, ok := AssetBySymbol(Arbitrum, "usdt0")
	require.True(t, ok)
	assert.Equal(t, "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", a.Address)

	_, ok = AssetBySymbol(Base, "USDT0")
	assert.False(t, ok)

	a, ok = AssetBySymbol(TonMainnet, "USDT")
	require.True(t, ok)
	assert.Equal(t, "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs", a.Address)
}

func TestLayerZeroTables(t *testing.T) {
	eid, ok := EndpointID(Ethereum)
	require.True(t, ok)
	assert.Equal(t, uint32(30101), eid)

	eid, ok = EndpointID(Arbitrum)
	require.True(t, ok)
	assert.Equal(t, uint32(30110), eid)

	_, ok = EndpointID(Base)
	assert.False(t, ok)

	assert.True(t, SupportsBridging(Ink))
	assert.False(t, SupportsBridging(Polygon))

	addr, ok := USDT0OFTAddress(Berachain)
	require.True(t, ok)
	assert.Equal(t, "0x779Ded0c9e1022225f8E0630b35a9b54bE713736", addr)
}

func TestRegistryConsistency(t *testing.T) {
	for _, id := range All() {
		n, ok := Lookup(id)
		require.True(t, ok)
		assert.Equal(t, id, n.ID)
		assert.NotEmpty(t, n.Endpoint, "network %s has no endpoint", id)
		assert.Equal(t, Family(id), n.Family, "network %s family mismatch", id)
	}
}
