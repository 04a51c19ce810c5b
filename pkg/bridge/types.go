// Package bridge tracks cross-chain USDT0 transfers sent over the LayerZero
// OFT standard. It extracts the message GUID from a confirmed source-chain
// receipt and follows the message through the LayerZero Scan API until it is
// delivered on the destination chain.
package bridge

import (
	"errors"
	"time"
)

// Status is a LayerZero Scan message status.
type Status string

const (
	// StatusInflight means the message is in transit between chains.
	StatusInflight Status = "INFLIGHT"
	// StatusConfirming means the message is awaiting confirmations.
	StatusConfirming Status = "CONFIRMING"
	// StatusDelivered means the message executed on the destination chain.
	StatusDelivered Status = "DELIVERED"
	// StatusFailed means delivery failed.
	StatusFailed Status = "FAILED"
	// StatusBlocked means the message was blocked by a DVN.
	StatusBlocked Status = "BLOCKED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusBlocked
}

// Message is a cross-chain message as reported by LayerZero Scan.
type Message struct {
	GUID      string `json:"guid"`
	SrcEid    int    `json:"srcEid"`
	DstEid    int    `json:"dstEid"`
	SrcTxHash string `json:"srcTxHash"`
	DstTxHash string `json:"dstTxHash,omitempty"`
	Status    Status `json:"status"`
	Created   string `json:"created,omitempty"`
	Updated   string `json:"updated,omitempty"`
}

// WaitOptions tunes WaitForDelivery. Zero values fall back to the package
// defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration

	// OnStatusChange is called at most once per observed status transition.
	OnStatusChange func(Status)
}

var (
	// ErrMessageNotFound means the scan API has not indexed the GUID yet.
	// Transient during polling.
	ErrMessageNotFound = errors.New("bridge message not found")

	// ErrMessageFailed means the message reached the FAILED state.
	ErrMessageFailed = errors.New("bridge message failed")

	// ErrMessageBlocked means the message was blocked by a DVN.
	ErrMessageBlocked = errors.New("bridge message blocked")

	// ErrDeliveryTimeout means the message did not reach a terminal state
	// within the wait window.
	ErrDeliveryTimeout = errors.New("timed out waiting for bridge delivery")
)
