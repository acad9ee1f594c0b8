// Package ledger talks to a Solana-style JSON-RPC node and verifies that a
// claimed transaction moved the expected value to the expected account.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/iliyamo/consultation-settlement/internal/metrics"
)

const maxResponseBytes = 4 << 20

// ClientConfig bounds how the client talks to the node.
type ClientConfig struct {
	URL         string
	Timeout     time.Duration // per attempt
	MaxAttempts int           // transport failures only
	Backoff     time.Duration // multiplied by the attempt number
	RPS         float64       // 0 disables the limiter
	Burst       int
}

// Client is a JSON-RPC client for the ledger node.  Transport failures are
// retried up to MaxAttempts times; an error object returned by the node is
// never retried.
type Client struct {
	url         string
	http        *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	nextID      atomic.Uint64
	log         *slog.Logger
}

// NewClient creates a ledger client.  httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	c := &Client{
		url:         cfg.URL,
		http:        httpClient,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		log:         logger.With("component", "ledger_client"),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// transportError marks a failure worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Call performs a JSON-RPC call and returns the raw result, which is
// "null" when the node returned no result.  Node errors are returned as
// *RPCError; exhausting the retry budget yields ErrNetwork.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	attempts := 0
	for attempts < c.maxAttempts {
		attempts++
		if attempts > 1 && c.backoff > 0 {
			t := time.NewTimer(c.backoff * time.Duration(attempts-1))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, method, ctx.Err())
			case <-t.C:
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, method, err)
			}
		}

		start := time.Now()
		result, err := c.do(ctx, body)
		elapsed := time.Since(start)
		if err == nil {
			metrics.RecordLedgerCall(method, "ok", elapsed)
			return result, nil
		}
		var te *transportError
		if !errors.As(err, &te) {
			metrics.RecordLedgerCall(method, "rpc_error", elapsed)
			return nil, err
		}
		metrics.RecordLedgerCall(method, "transport_error", elapsed)
		lastErr = err
		c.log.Warn("ledger call failed", "method", method, "attempt", attempts, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrNetwork, method, attempts, lastErr)
}

func (c *Client) do(ctx context.Context, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transportError{fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transportError{fmt.Errorf("http status %d", resp.StatusCode)}
	}
	if !gjson.ValidBytes(data) {
		return nil, &transportError{fmt.Errorf("malformed response (http status %d)", resp.StatusCode)}
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() && e.Type != gjson.Null {
		return nil, &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &transportError{fmt.Errorf("http status %d", resp.StatusCode)}
	}
	result := gjson.GetBytes(data, "result")
	if !result.Exists() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(result.Raw), nil
}

// Node error codes that mean the transaction's slot or history is not
// available on this node yet.
const (
	codeBlockNotAvailable  = -32004
	codeSlotSkipped        = -32007
	codeNoSnapshot         = -32008
	codeHistoryUnavailable = -32011
	codeInvalidParams      = -32602
)

// classifyRPCError maps a node error object onto the verification taxonomy.
func classifyRPCError(signature string, e *RPCError) error {
	switch e.Code {
	case codeBlockNotAvailable, codeSlotSkipped, codeNoSnapshot, codeHistoryUnavailable:
		return fmt.Errorf("%w: %s: %v", ErrTransactionNotFound, signature, e)
	case codeInvalidParams:
		// well-formed base58 that does not decode to a signature
		return fmt.Errorf("%w: %q: %v", ErrInvalidSignatureFormat, signature, e)
	}
	return fmt.Errorf("%w: %s: %v", ErrLedgerRejected, signature, e)
}

// GetTransaction fetches a confirmed transaction by signature.  A null
// result, or a node error saying the slot is not available yet, means the
// transaction is not (yet) visible.  Other node errors are not retriable.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	raw, err := c.Call(ctx, "getTransaction", signature, map[string]any{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, classifyRPCError(signature, rpcErr)
		}
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("%w: decode transaction %s: %v", ErrNetwork, signature, err)
	}
	return &tx, nil
}

// GetBalance returns the balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	if !IsValidAddress(address) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWalletAddress, address)
	}
	raw, err := c.Call(ctx, "getBalance", address)
	if err != nil {
		return 0, err
	}
	v := gjson.GetBytes(raw, "value")
	if !v.Exists() || v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: getBalance returned no value", ErrInvalidAmount)
	}
	return v.Uint(), nil
}
