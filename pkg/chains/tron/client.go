package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/sigweihq/t402pay/pkg/constants"
)

// TxStatus is the solidity-node view of a broadcast transaction.
type TxStatus int

const (
	// TxPending means the solidity node has not seen the transaction yet.
	TxPending TxStatus = iota
	// TxSuccess means the transaction executed successfully.
	TxSuccess
	// TxFailed means the transaction executed and reverted or ran out of
	// energy.
	TxFailed
)

// Backend is the node surface the TRON scheme needs.
type Backend interface {
	// Broadcast submits a hex-encoded signed transaction and returns its id.
	Broadcast(ctx context.Context, hexTx string) (string, error)

	// TransactionStatus looks the transaction up on a solidity node.
	TransactionStatus(ctx context.Context, txID string) (TxStatus, error)

	// IsActivated reports whether the account exists on chain.
	IsActivated(ctx context.Context, address string) (bool, error)

	// BalanceOf returns the owner's TRC-20 balance.
	BalanceOf(ctx context.Context, owner, contract string) (*big.Int, error)
}

// Client talks to a TronGrid-compatible REST endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient builds a TronGrid client. apiKey may be empty for public
// endpoints.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
				ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			},
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("invalid %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Broadcast(ctx context.Context, hexTx string) (string, error) {
	var out struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	err := c.post(ctx, "/wallet/broadcasthex", map[string]any{"transaction": hexTx}, &out)
	if err != nil {
		return "", err
	}
	if !out.Result {
		// the node hex-encodes its error message
		msg := out.Message
		if decoded, err := hex.DecodeString(msg); err == nil {
			msg = string(decoded)
		}
		return "", fmt.Errorf("broadcast rejected (%s): %s", out.Code, msg)
	}
	return out.TxID, nil
}

func (c *Client) TransactionStatus(ctx context.Context, txID string) (TxStatus, error) {
	var out struct {
		ID      string `json:"id"`
		Receipt struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	err := c.post(ctx, "/walletsolidity/gettransactioninfobyid", map[string]any{"value": txID}, &out)
	if err != nil {
		return TxPending, err
	}
	switch {
	case out.ID == "":
		return TxPending, nil
	case out.Receipt.Result == "" || out.Receipt.Result == "SUCCESS":
		return TxSuccess, nil
	default:
		return TxFailed, fmt.Errorf("transaction failed with result %s", out.Receipt.Result)
	}
}

func (c *Client) IsActivated(ctx context.Context, address string) (bool, error) {
	var out map[string]any
	err := c.post(ctx, "/wallet/getaccount", map[string]any{
		"address": address,
		"visible": true,
	}, &out)
	if err != nil {
		return false, err
	}
	// an unknown account comes back as an empty object
	_, ok := out["address"]
	return ok, nil
}

func (c *Client) BalanceOf(ctx context.Context, owner, contract string) (*big.Int, error) {
	rawOwner, err := DecodeAddress(owner)
	if err != nil {
		return nil, err
	}
	parameter := fmt.Sprintf("%064s", hex.EncodeToString(rawOwner[1:]))

	var out struct {
		Result struct {
			Result bool `json:"result"`
		} `json:"result"`
		ConstantResult []string `json:"constant_result"`
	}
	err = c.post(ctx, "/wallet/triggerconstantcontract", map[string]any{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": "balanceOf(address)",
		"parameter":         parameter,
		"visible":           true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Result.Result || len(out.ConstantResult) == 0 {
		return nil, fmt.Errorf("balanceOf call failed")
	}
	raw, err := hex.DecodeString(out.ConstantResult[0])
	if err != nil {
		return nil, fmt.Errorf("invalid balanceOf result: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}
