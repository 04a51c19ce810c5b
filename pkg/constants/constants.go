package constants

import "time"

const (
	RPCCallTimeout        = 10 * time.Second // timeout for a single chain RPC call
	BroadcastTimeout      = 30 * time.Second // timeout for broadcasting a transaction
	ConfirmPollInterval   = 1 * time.Second  // delay between confirmation polls
	DefaultConfirmTimeout = 60 * time.Second // default wait for on-chain confirmation
	TLSHandshakeTimeout   = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout = 20 * time.Second // timeout for response header
	MaxResponseBodySize   = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

const (
	// StablecoinDecimals is the smallest-unit precision shared by USDC/USDT variants.
	StablecoinDecimals = 6

	// MinValidityBuffer is subtracted from authorization expiries so a payment
	// cannot expire between verify and broadcast.
	MinValidityBuffer = 30 * time.Second

	// MaxAuthorizationAge rejects authorizations stamped implausibly far in the past.
	MaxAuthorizationAge = 24 * time.Hour
)

const (
	// BridgePollInterval is the fixed delay between bridge tracker polls.
	BridgePollInterval = 10 * time.Second

	// BridgeDeliveryTimeout bounds how long the tracker waits for delivery.
	BridgeDeliveryTimeout = 600 * time.Second
)
