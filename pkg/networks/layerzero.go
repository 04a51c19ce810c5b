package networks

// LayerZero v2 endpoint ids for networks carrying USDT0.
var layerZeroEndpointIDs = map[string]uint32{
	Ethereum:  30101,
	Arbitrum:  30110,
	Ink:       30291,
	Unichain:  30320,
	Berachain: 30362,
}

// USDT0 OFT contract addresses by network.
var usdt0OFTAddresses = map[string]string{
	Ethereum:  "0x6C96dE32CEa08842dcc4058c14d3aaAD7Fa41dee",
	Arbitrum:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	Ink:       "0x0200C29006150606B650577BBE7B6248F58470c1",
	Berachain: "0x779Ded0c9e1022225f8E0630b35a9b54bE713736",
	Unichain:  "0x588ce4F028D8e7B53B687865d6A67b3A54C75518",
}

// EndpointID returns the LayerZero v2 endpoint id for a network.
func EndpointID(network string) (uint32, bool) {
	eid, ok := layerZeroEndpointIDs[network]
	return eid, ok
}

// USDT0OFTAddress returns the USDT0 OFT contract address for a network.
func USDT0OFTAddress(network string) (string, bool) {
	addr, ok := usdt0OFTAddresses[network]
	return addr, ok
}

// SupportsBridging reports whether USDT0 can be bridged from the network.
func SupportsBridging(network string) bool {
	_, ok := usdt0OFTAddresses[network]
	return ok
}
