// Package ledger is the call boundary to the remote message ledger. The
// ledger is an append-only log of (author, text) records exposed over
// JSON-RPC: one view call returns every record in order and one signed
// write call appends a record. Nothing in this package touches local view
// state; it only moves records and transactions across the network.
package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Address identifies a message author (and the ledger itself). Addresses
// are compared case-insensitively; Normalize yields the cache/join key.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Normalize returns the case-folded form used as a map key.
func (a Address) Normalize() Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

// Equal reports whether two addresses name the same author.
func (a Address) Equal(b Address) bool {
	return a.Normalize() == b.Normalize()
}

func (a Address) String() string {
	return string(a)
}

// Valid reports whether a is a 0x-prefixed 20-byte hex address.
func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

// AddressFromPublicKey derives the account address for an ed25519 key:
// the last 20 bytes of sha256(pubkey), hex encoded with a 0x prefix.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	sum := sha256.Sum256(pub)
	return Address("0x" + hex.EncodeToString(sum[12:]))
}

// RawRecord is one entry of the remote log. Its index in the sequence
// returned by FetchAll is its identity for the whole session.
type RawRecord struct {
	Author    Address `json:"user"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix seconds, 0 when the ledger does not record it
}

// Time returns the record timestamp, or the zero time when absent.
func (r RawRecord) Time() time.Time {
	if r.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(r.Timestamp, 0)
}

// Gateway is the two-operation contract the rest of the client relies on.
type Gateway interface {
	// FetchAll returns the complete ordered log or fails atomically with a
	// transport or contract error.
	FetchAll(ctx context.Context) ([]RawRecord, error)

	// Append submits text signed by signer and returns a handle that
	// resolves once the record is durably included.
	Append(ctx context.Context, signer Signer, text string) (*Confirmation, error)
}

// Confirmation is the awaitable result of Append.
type Confirmation struct {
	hash string
	wait func(ctx context.Context) error
}

// NewConfirmation builds a confirmation handle for the transaction hash.
// wait must block until the transaction is included or ctx ends.
func NewConfirmation(hash string, wait func(ctx context.Context) error) *Confirmation {
	return &Confirmation{hash: hash, wait: wait}
}

// Hash returns the transaction hash reported by the ledger.
func (c *Confirmation) Hash() string {
	return c.hash
}

// Wait blocks until the write is included in the ledger. It fails with a
// SubmissionError when the ledger rejects the transaction and with a
// ConfirmationTimeout when ctx ends first.
func (c *Confirmation) Wait(ctx context.Context) error {
	if c == nil || c.wait == nil {
		return nil
	}
	return c.wait(ctx)
}
