package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/sigweihq/t402pay/pkg/constants"
)

// DefaultScanBaseURL is the public LayerZero Scan API.
const DefaultScanBaseURL = "https://scan.layerzero-api.com/v1"

// oftSentTopic is the event signature hash of
// OFTSent(bytes32,uint32,address,uint256,uint256).
var oftSentTopic = common.HexToHash("0x85496b760a4b7f8d66384b9df21b381f5d1b1e79f229a47aaf4c232edc2fe59a")

// ExtractGUID pulls the LayerZero message GUID out of a confirmed
// source-chain receipt. The GUID is the first indexed parameter of the
// OFTSent event.
func ExtractGUID(receipt *ethtypes.Receipt) (string, error) {
	if receipt == nil {
		return "", fmt.Errorf("nil receipt")
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", receipt.TxHash)
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) >= 2 && log.Topics[0] == oftSentTopic {
			return log.Topics[1].Hex(), nil
		}
	}
	return "", fmt.Errorf("no OFTSent event in receipt for %s", receipt.TxHash)
}

// ScanClient reads message state from a LayerZero Scan compatible API.
type ScanClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewScanClient builds a scan client. baseURL may be empty to use the public
// API.
func NewScanClient(baseURL string, logger *slog.Logger) *ScanClient {
	if baseURL == "" {
		baseURL = DefaultScanBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
				ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			},
		},
		logger: logger,
	}
}

// GetMessage fetches a message by GUID. Returns ErrMessageNotFound while the
// scan API has not indexed it.
func (c *ScanClient) GetMessage(ctx context.Context, guid string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/messages/guid/%s", c.baseURL, guid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, guid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scan API returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read scan response: %w", err)
	}

	// the API wraps results in a data array; a bare message also works
	var envelope struct {
		Data []Message `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		return &envelope.Data[0], nil
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.GUID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, guid)
	}
	return &msg, nil
}

// IsDelivered reports whether the message has executed on the destination.
func (c *ScanClient) IsDelivered(ctx context.Context, guid string) (bool, error) {
	msg, err := c.GetMessage(ctx, guid)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return false, nil
		}
		return false, err
	}
	return delivered(msg), nil
}

// WaitForDelivery polls the scan API until the message reaches a terminal
// state or the wait window elapses. FAILED and BLOCKED come back as errors;
// a timeout is ErrDeliveryTimeout.
func (c *ScanClient) WaitForDelivery(ctx context.Context, guid string, opts *WaitOptions) (*Message, error) {
	timeout := constants.BridgeDeliveryTimeout
	interval := constants.BridgePollInterval
	var onChange func(Status)
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.PollInterval > 0 {
			interval = opts.PollInterval
		}
		onChange = opts.OnStatusChange
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus Status
	for {
		msg, err := c.GetMessage(waitCtx, guid)
		switch {
		case err != nil && errors.Is(err, ErrMessageNotFound):
			// not indexed yet, keep polling
		case err != nil && waitCtx.Err() == nil:
			return nil, err
		case err == nil:
			if msg.Status != lastStatus {
				lastStatus = msg.Status
				c.logger.Info("bridge message status changed",
					"guid", guid, "status", msg.Status)
				if onChange != nil {
					onChange(msg.Status)
				}
			}
			switch msg.Status {
			case StatusFailed:
				return nil, fmt.Errorf("%w: %s", ErrMessageFailed, guid)
			case StatusBlocked:
				return nil, fmt.Errorf("%w: %s", ErrMessageBlocked, guid)
			}
			if delivered(msg) {
				return msg, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrDeliveryTimeout, guid)
		case <-ticker.C:
		}
	}
}

// delivered requires the destination tx hash: scan briefly reports DELIVERED
// before it is populated.
func delivered(msg *Message) bool {
	return msg.Status == StatusDelivered && msg.DstTxHash != ""
}
