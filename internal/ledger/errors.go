package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes gateway failures.
type ErrorCode string

const (
	// CodeTransport means the endpoint could not be reached. Recoverable:
	// the next poll retries.
	CodeTransport ErrorCode = "TRANSPORT"

	// CodeContract means the remote call reverted or returned data that
	// could not be decoded.
	CodeContract ErrorCode = "CONTRACT"

	// CodeSubmission means the write was rejected, either locally (no
	// signer) or by the ledger.
	CodeSubmission ErrorCode = "SUBMISSION"

	// CodeConfirmationTimeout means the write may have been accepted but
	// inclusion was not observed in time. The outcome is unknown.
	CodeConfirmationTimeout ErrorCode = "CONFIRMATION_TIMEOUT"
)

// Error is the error type returned by every gateway operation.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }

// IsContract reports whether err is a ContractError.
func IsContract(err error) bool { return CodeOf(err) == CodeContract }

// IsSubmission reports whether err is a SubmissionError.
func IsSubmission(err error) bool { return CodeOf(err) == CodeSubmission }

// IsConfirmationTimeout reports whether err is a ConfirmationTimeout.
func IsConfirmationTimeout(err error) bool { return CodeOf(err) == CodeConfirmationTimeout }

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Well-known JSON-RPC error codes used by the ledger node.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
	RPCTxNotFound     = -32004
	RPCUnknownLedger  = -32005
)
