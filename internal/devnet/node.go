package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/ledger"
)

// Result codes of updateMessage. Zero means accepted.
const (
	CodeOK uint32 = iota
	CodeMalformedTx
	CodeUnsupportedTx
	CodeInvalidSignature
	CodeInvalidMessage
	CodeDuplicateTx
	CodeInternal
)

// DevLedgerAddress is served when no ledger address is configured. It is
// the address a first deployment from a fresh development account gets.
const DevLedgerAddress = ledger.Address("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// MaxMessageLength bounds the text of a single message in bytes.
const MaxMessageLength = 1024

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id,omitempty"`
	Result  any              `json:"result,omitempty"`
	Error   *ledger.RPCError `json:"error,omitempty"`
}

type txResult struct {
	Code uint32 `json:"code"`
	Log  string `json:"log,omitempty"`
	Hash string `json:"hash,omitempty"`
}

// Node serves one ledger address over JSON-RPC.
type Node struct {
	store         *Store
	ledger        ledger.Address
	chainID       int64
	blockInterval time.Duration
	clock         clock.Clock
	log           *logrus.Entry
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithChainID sets the id reported by chainId.
func WithChainID(id int64) NodeOption {
	return func(n *Node) { n.chainID = id }
}

// WithBlockInterval makes transactions wait in the pending pool until the
// next block. Zero includes each transaction as soon as it is accepted.
func WithBlockInterval(d time.Duration) NodeOption {
	return func(n *Node) { n.blockInterval = d }
}

// WithClock sets the clock used for block production and timestamps.
func WithClock(clk clock.Clock) NodeOption {
	return func(n *Node) { n.clock = clk }
}

// NewNode creates a node for ledgerAddr backed by store.
func NewNode(store *Store, ledgerAddr ledger.Address, opts ...NodeOption) *Node {
	n := &Node{
		store:   store,
		ledger:  ledgerAddr,
		chainID: 46630,
		clock:   clock.New(),
		log:     logrus.WithField("component", "devnet"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handler returns the HTTP handler. JSON-RPC is served at / and /rpc.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", n.serveRPC)
	mux.HandleFunc("/rpc", n.serveRPC)
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("pong"))
	})
	return mux
}

// Run produces blocks every block interval until ctx ends. It returns
// immediately when blocks are produced per transaction.
func (n *Node) Run(ctx context.Context) {
	if n.blockInterval <= 0 {
		return
	}
	ticker := n.clock.Ticker(n.blockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.commit()
		}
	}
}

func (n *Node) commit() {
	height, included, err := n.store.CommitBlock(n.clock.Now())
	if err != nil {
		n.log.WithError(err).Error("block commit failed")
		return
	}
	if included > 0 {
		n.log.WithFields(logrus.Fields{"height": height, "txs": included}).Info("committed block")
	}
}

func (n *Node) serveRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Error: &ledger.RPCError{Code: ledger.RPCInvalidRequest, Message: "POST required"}})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Error: &ledger.RPCError{Code: ledger.RPCParseError, Message: "invalid JSON"}})
		return
	}

	result, rpcErr := n.dispatch(req.Method, req.Params)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
	if rpcErr == nil && result == nil {
		resp.Result = struct{}{}
	}
	json.NewEncoder(w).Encode(resp)
}

func (n *Node) dispatch(method string, raw json.RawMessage) (any, *ledger.RPCError) {
	var params map[string]string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &ledger.RPCError{Code: ledger.RPCInvalidParams, Message: "params must be an object of strings"}
		}
	}

	switch method {
	case "getMessages":
		if err := n.checkLedger(params); err != nil {
			return nil, err
		}
		records, err := n.store.Messages(n.ledger)
		if err != nil {
			return nil, internalError(err)
		}
		return map[string]any{"messages": records}, nil

	case "updateMessage":
		if err := n.checkLedger(params); err != nil {
			return nil, err
		}
		return n.updateMessage(params["tx"]), nil

	case "tx":
		if err := n.checkLedger(params); err != nil {
			return nil, err
		}
		status, err := n.store.TxStatus(params["hash"])
		if errors.Is(err, ErrTxNotFound) {
			return nil, &ledger.RPCError{Code: ledger.RPCTxNotFound, Message: "transaction not found"}
		}
		if err != nil {
			return nil, internalError(err)
		}
		return status, nil

	case "lookupAddress":
		name, err := n.store.LookupAddress(ledger.Address(params["address"]))
		if err != nil {
			return nil, internalError(err)
		}
		return map[string]string{"name": name}, nil

	case "getAvatar":
		url, err := n.store.Avatar(params["name"])
		if err != nil {
			return nil, internalError(err)
		}
		return map[string]string{"url": url}, nil

	case "registerName":
		addr := ledger.Address(params["address"])
		if !addr.Valid() || strings.TrimSpace(params["name"]) == "" {
			return nil, &ledger.RPCError{Code: ledger.RPCInvalidParams, Message: "address and name are required"}
		}
		if err := n.store.RegisterName(addr, strings.TrimSpace(params["name"]), params["avatar"]); err != nil {
			return nil, internalError(err)
		}
		return struct{}{}, nil

	case "chainId":
		return map[string]int64{"chainId": n.chainID}, nil

	default:
		return nil, &ledger.RPCError{Code: ledger.RPCMethodNotFound, Message: "method not found", Data: method}
	}
}

func (n *Node) checkLedger(params map[string]string) *ledger.RPCError {
	if !ledger.Address(params["ledger"]).Equal(n.ledger) {
		return &ledger.RPCError{Code: ledger.RPCUnknownLedger, Message: "unknown ledger", Data: params["ledger"]}
	}
	return nil
}

func (n *Node) updateMessage(encoded string) txResult {
	signed, err := ledger.DecodeSignedTransaction(encoded)
	if err != nil {
		return txResult{Code: CodeMalformedTx, Log: err.Error()}
	}
	if !signed.Verify() {
		return txResult{Code: CodeInvalidSignature, Log: "invalid signature"}
	}
	tx, err := signed.GetTransaction()
	if err != nil {
		return txResult{Code: CodeMalformedTx, Log: err.Error()}
	}
	if tx.Type != ledger.TxUpdateMessage {
		return txResult{Code: CodeUnsupportedTx, Log: "unsupported transaction type " + string(tx.Type)}
	}
	if strings.TrimSpace(tx.Text) == "" || len(tx.Text) > MaxMessageLength {
		return txResult{Code: CodeInvalidMessage, Log: "message must be 1 to 1024 bytes"}
	}

	hash := signed.Hash()
	if err := n.store.SubmitTx(n.ledger, hash, tx); err != nil {
		if errors.Is(err, ErrDuplicateTx) {
			return txResult{Code: CodeDuplicateTx, Log: err.Error(), Hash: hash}
		}
		n.log.WithError(err).Error("store transaction failed")
		return txResult{Code: CodeInternal, Log: "internal error"}
	}
	n.log.WithFields(logrus.Fields{"tx": hash, "from": tx.From}).Debug("accepted transaction")

	if n.blockInterval <= 0 {
		n.commit()
	}
	return txResult{Code: CodeOK, Hash: hash}
}

func internalError(err error) *ledger.RPCError {
	return &ledger.RPCError{Code: ledger.RPCInternalError, Message: "internal error", Data: err.Error()}
}
