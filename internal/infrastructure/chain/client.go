package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

// Client speaks JSON-RPC to a node that holds the signing keys
// (eth_sendTransaction). Transport failures are operational; node-side
// rejections of a transaction (reverts, unknown accounts) are correctness
// failures.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Uint64

	pollInterval time.Duration
}

func NewClient(url string, requestTimeout time.Duration) *Client {
	return &Client{
		url:          url,
		http:         &http.Client{Timeout: requestTimeout},
		pollInterval: 2 * time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "rpc "+method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "decode rpc response for "+method, err)
	}
	if out.Error != nil {
		return nil, classifyRPCError(method, out.Error)
	}
	return out.Result, nil
}

// classifyRPCError splits node errors into the two workflow error classes. A
// revert or an account the node will never sign for is a verdict; anything
// else (nonce races, mempool pressure, sync lag) is retryable.
func classifyRPCError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "revert"):
		return domain.Correctness(domain.CodeReverted, e.Message)
	case strings.Contains(msg, "unknown account"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "no signer"):
		return domain.Correctness(domain.CodeRejected, e.Message)
	default:
		return domain.Operational(domain.CodeUnavailable,
			fmt.Sprintf("rpc %s failed (code %d)", method, e.Code), fmt.Errorf("%s", e.Message))
	}
}

func (c *Client) GetNonce(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	return parseHexQuantity(raw)
}

func (c *Client) SubmitTx(ctx context.Context, signer string, req ports.TxRequest, nonce uint64) (string, error) {
	params := map[string]any{
		"from":  signer,
		"to":    req.To,
		"data":  "0x" + hex.EncodeToString(req.Data),
		"nonce": "0x" + strconv.FormatUint(nonce, 16),
	}
	raw, err := c.call(ctx, "eth_sendTransaction", params)
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", domain.Operational(domain.CodeUnavailable, "decode tx hash", err)
	}
	return txHash, nil
}

func (c *Client) GetTxReceipt(ctx context.Context, txHash string) (*ports.TxReceipt, error) {
	raw, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}

	var receipt struct {
		BlockNumber string `json:"blockNumber"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "decode receipt", err)
	}

	block, err := parseHexQuantity(json.RawMessage(strconv.Quote(receipt.BlockNumber)))
	if err != nil {
		return nil, err
	}
	status, err := parseHexQuantity(json.RawMessage(strconv.Quote(receipt.Status)))
	if err != nil {
		return nil, err
	}

	return &ports.TxReceipt{TxHash: txHash, BlockNumber: block, Status: status}, nil
}

// WaitForConfirmation polls for the receipt until the window closes. A nil
// receipt with nil error means the window expired without a verdict.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*ports.TxReceipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTxReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !domain.IsOperational(err) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, domain.Operational(domain.CodeUnavailable, "confirmation wait cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func parseHexQuantity(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, domain.Operational(domain.CodeUnavailable, "decode hex quantity", err)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, domain.Operational(domain.CodeUnavailable, "parse hex quantity "+s, err)
	}
	return v, nil
}
