package ton

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/sigweihq/t402pay/pkg/constants"
)

// Backend is the node surface the TON scheme needs.
type Backend interface {
	// Seqno returns the wallet's current sequence number. An undeployed
	// wallet reports 0.
	Seqno(ctx context.Context, address string) (int64, error)

	// IsDeployed reports whether the account is active.
	IsDeployed(ctx context.Context, address string) (bool, error)

	// JettonBalance returns the owner's balance of the given Jetton.
	JettonBalance(ctx context.Context, owner, jettonMaster string) (*big.Int, error)

	// SendBoc broadcasts a base64 signed external message and returns the
	// message hash.
	SendBoc(ctx context.Context, signedBoc string) (string, error)
}

// Client talks to a toncenter-compatible JSON-RPC endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient builds a toncenter client. apiKey may be empty for public
// endpoints.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
				ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			},
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Code   int             `json:"code"`
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RPCCallTimeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s failed: %s", method, string(envelope.Error))
	}
	return json.Unmarshal(envelope.Result, result)
}

type runGetMethodResult struct {
	ExitCode int     `json:"exit_code"`
	Stack    [][]any `json:"stack"`
}

func (c *Client) runGetMethod(ctx context.Context, address, method string, stack []any) (*runGetMethodResult, error) {
	if stack == nil {
		stack = []any{}
	}
	var out runGetMethodResult
	err := c.call(ctx, "runGetMethod", map[string]any{
		"address": address,
		"method":  method,
		"stack":   stack,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// stackNum extracts a numeric stack entry ("num", "0x...").
func stackNum(entry []any) (*big.Int, error) {
	if len(entry) != 2 {
		return nil, fmt.Errorf("malformed stack entry")
	}
	kind, _ := entry[0].(string)
	if kind != "num" {
		return nil, fmt.Errorf("unexpected stack entry kind %q", kind)
	}
	hexVal, _ := entry[1].(string)
	v, ok := new(big.Int).SetString(strings.TrimPrefix(hexVal, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid stack number %q", hexVal)
	}
	return v, nil
}

func (c *Client) Seqno(ctx context.Context, address string) (int64, error) {
	out, err := c.runGetMethod(ctx, address, "seqno", nil)
	if err != nil {
		return 0, err
	}
	// an undeployed wallet has no seqno method yet
	if out.ExitCode != 0 || len(out.Stack) == 0 {
		return 0, nil
	}
	v, err := stackNum(out.Stack[0])
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

type addressInformation struct {
	State string `json:"state"`
}

func (c *Client) IsDeployed(ctx context.Context, address string) (bool, error) {
	var info addressInformation
	if err := c.call(ctx, "getAddressInformation", map[string]any{"address": address}, &info); err != nil {
		return false, err
	}
	return info.State == "active", nil
}

func (c *Client) JettonBalance(ctx context.Context, owner, jettonMaster string) (*big.Int, error) {
	ownerAddr, err := ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner address: %w", err)
	}
	ownerCell, err := EncodeAddressCell(ownerAddr)
	if err != nil {
		return nil, err
	}

	out, err := c.runGetMethod(ctx, jettonMaster, "get_wallet_address", []any{
		[]any{"tvm.Slice", ownerCell},
	})
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 || len(out.Stack) == 0 {
		return nil, fmt.Errorf("get_wallet_address failed with exit code %d", out.ExitCode)
	}
	walletAddr, err := stackAddress(out.Stack[0])
	if err != nil {
		return nil, err
	}

	data, err := c.runGetMethod(ctx, walletAddr.Friendly(), "get_wallet_data", nil)
	if err != nil {
		return nil, err
	}
	// an undeployed jetton wallet holds nothing
	if data.ExitCode != 0 || len(data.Stack) == 0 {
		return big.NewInt(0), nil
	}
	return stackNum(data.Stack[0])
}

// stackAddress extracts an address from a cell/slice stack entry.
func stackAddress(entry []any) (*Address, error) {
	if len(entry) != 2 {
		return nil, fmt.Errorf("malformed stack entry")
	}
	obj, ok := entry[1].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected stack entry payload %T", entry[1])
	}
	b64, _ := obj["bytes"].(string)
	if b64 == "" {
		if inner, ok := obj["object"].(map[string]any); ok {
			if d, ok := inner["data"].(map[string]any); ok {
				b64, _ = d["b64"].(string)
			}
		}
	}
	if b64 == "" {
		return nil, fmt.Errorf("stack entry carries no cell bytes")
	}
	return ParseAddressCell(b64)
}

func (c *Client) SendBoc(ctx context.Context, signedBoc string) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "sendBocReturnHash", map[string]any{"boc": signedBoc}, &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}
