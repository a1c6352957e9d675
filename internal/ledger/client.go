package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRPCAddr is used when no endpoint is configured.
	DefaultRPCAddr = "http://localhost:8545"

	defaultHTTPTimeout         = 10 * time.Second
	defaultConfirmPollInterval = time.Second
)

// Transaction statuses reported by the "tx" method.
const (
	TxPending  = "pending"
	TxIncluded = "included"
	TxRejected = "rejected"
)

// TxStatus is the result of the "tx" method.
type TxStatus struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
	Height int64  `json:"height"`
	Log    string `json:"log,omitempty"`
}

// Client talks JSON-RPC 2.0 over HTTP to a ledger node. It implements
// Gateway for one deployed ledger address.
type Client struct {
	rpcAddr     string
	ledger      Address
	client      *http.Client
	clock       clock.Clock
	confirmPoll time.Duration
	log         *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// WithClock sets the clock driving confirmation polling.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithConfirmPollInterval sets how often Wait polls for inclusion.
func WithConfirmPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.confirmPoll = d
		}
	}
}

// NewClient creates a gateway for the ledger deployed at ledgerAddr.
//
// Parameters:
//   - rpcAddr: ledger node RPC endpoint (e.g., "http://localhost:8545")
//   - ledgerAddr: address of the deployed message ledger
func NewClient(rpcAddr string, ledgerAddr Address, opts ...Option) *Client {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}
	c := &Client{
		rpcAddr:     rpcAddr,
		ledger:      ledgerAddr,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		clock:       clock.New(),
		confirmPoll: defaultConfirmPollInterval,
		log:         logrus.WithField("component", "ledger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RPCAddr returns the configured endpoint.
func (c *Client) RPCAddr() string {
	return c.rpcAddr
}

// FetchAll returns every record in ledger order. Records with an empty
// author make the whole response malformed; no partial list is returned.
func (c *Client) FetchAll(ctx context.Context) ([]RawRecord, error) {
	var result struct {
		Messages []RawRecord `json:"messages"`
	}
	if err := c.Call(ctx, "getMessages", map[string]string{"ledger": string(c.ledger)}, &result); err != nil {
		return nil, reclassify(err, "fetchAll", CodeContract)
	}
	for i, rec := range result.Messages {
		if strings.TrimSpace(string(rec.Author)) == "" {
			return nil, newError(CodeContract, "fetchAll", fmt.Sprintf("record %d has no author", i), nil)
		}
	}
	if result.Messages == nil {
		return []RawRecord{}, nil
	}
	return result.Messages, nil
}

// Append signs text with signer, submits it and returns a confirmation
// handle. Failures before the ledger accepts the transaction are
// SubmissionErrors. A submission that times out in flight may still have
// been accepted and is a ConfirmationTimeout.
func (c *Client) Append(ctx context.Context, signer Signer, text string) (*Confirmation, error) {
	if signer == nil {
		return nil, newError(CodeSubmission, "append", "no signing identity connected", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, newError(CodeSubmission, "append", "message text is empty", nil)
	}

	tx := NewMessageTx(signer.Address(), text, c.clock.Now())
	signed, err := tx.Sign(signer)
	if err != nil {
		return nil, newError(CodeSubmission, "append", "sign transaction", err)
	}
	encoded, err := signed.Encode()
	if err != nil {
		return nil, newError(CodeSubmission, "append", "encode transaction", err)
	}

	var result struct {
		Code uint32 `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	}
	params := map[string]string{"ledger": string(c.ledger), "tx": encoded}
	if err := c.Call(ctx, "updateMessage", params, &result); err != nil {
		if IsTransport(err) && isTimeout(err) {
			return nil, newError(CodeConfirmationTimeout, "append",
				"submission of "+signed.Hash()+" timed out; outcome unknown", err)
		}
		return nil, reclassify(err, "append", CodeSubmission)
	}
	if result.Code != 0 {
		return nil, newError(CodeSubmission, "append",
			fmt.Sprintf("transaction rejected with code %d: %s", result.Code, result.Log), nil)
	}

	hash := result.Hash
	if hash == "" {
		hash = signed.Hash()
	}
	c.log.WithField("tx", hash).Debug("transaction accepted, awaiting inclusion")

	return NewConfirmation(hash, func(ctx context.Context) error {
		return c.waitIncluded(ctx, hash)
	}), nil
}

// TxStatus queries a transaction by hash.
func (c *Client) TxStatus(ctx context.Context, hash string) (*TxStatus, error) {
	var status TxStatus
	params := map[string]string{"ledger": string(c.ledger), "hash": hash}
	if err := c.Call(ctx, "tx", params, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ChainID asks the node which chain it serves.
func (c *Client) ChainID(ctx context.Context) (int64, error) {
	var result struct {
		ChainID int64 `json:"chainId"`
	}
	if err := c.Call(ctx, "chainId", nil, &result); err != nil {
		return 0, err
	}
	return result.ChainID, nil
}

// waitIncluded polls the transaction until it is included, rejected, or
// ctx ends. Unknown hashes and transport failures are treated as "not yet".
func (c *Client) waitIncluded(ctx context.Context, hash string) error {
	ticker := c.clock.Ticker(c.confirmPoll)
	defer ticker.Stop()

	for {
		status, err := c.TxStatus(ctx, hash)
		switch {
		case err != nil:
			c.log.WithError(err).WithField("tx", hash).Debug("confirmation poll failed")
		case status.Status == TxIncluded:
			return nil
		case status.Status == TxRejected:
			return newError(CodeSubmission, "confirm", "transaction rejected: "+status.Log, nil)
		}

		select {
		case <-ctx.Done():
			return newError(CodeConfirmationTimeout, "confirm",
				"inclusion of "+hash+" not observed; outcome unknown", ctx.Err())
		case <-ticker.C:
		}
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call performs one JSON-RPC call and decodes the result into result.
// Connection failures and 5xx responses are TransportErrors; RPC error
// objects and undecodable bodies are ContractErrors.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	reqBytes, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return newError(CodeContract, method, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return newError(CodeTransport, method, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return newError(CodeTransport, method, "send request", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(CodeTransport, method, "read response", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return newError(CodeTransport, method, fmt.Sprintf("endpoint returned %s", resp.Status), nil)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return newError(CodeContract, method, fmt.Sprintf("malformed response (status %d)", resp.StatusCode), err)
	}
	if rpcResp.Error != nil {
		return newError(CodeContract, method, "remote call failed", rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return newError(CodeContract, method, "response has no result", nil)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return newError(CodeContract, method, "malformed result", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// reclassify rewrites the op of a gateway error and, for non-transport
// errors, its code.
func reclassify(err error, op string, code ErrorCode) error {
	var le *Error
	if !errors.As(err, &le) {
		return newError(code, op, "call failed", err)
	}
	out := *le
	out.Op = op
	if code == CodeSubmission || le.Code != CodeTransport {
		out.Code = code
	}
	return &out
}
