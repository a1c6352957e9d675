package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxType names the state transition a transaction requests.
type TxType string

const (
	TxUpdateMessage TxType = "update_message"
)

// Signer is a connected signing identity supplied by the wallet.
type Signer interface {
	Address() Address
	PublicKey() ed25519.PublicKey
	Sign(message []byte) []byte
}

// Transaction is the unsigned body of a ledger write.
type Transaction struct {
	Type      TxType    `json:"type"`
	From      Address   `json:"from"`
	Text      string    `json:"text"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageTx builds an update_message transaction with a fresh nonce.
func NewMessageTx(from Address, text string, now time.Time) Transaction {
	return Transaction{
		Type:      TxUpdateMessage,
		From:      from,
		Text:      text,
		Nonce:     uuid.NewString(),
		Timestamp: now.UTC(),
	}
}

// Sign serializes the transaction and signs the bytes with s.
func (tx Transaction) Sign(s Signer) (*SignedTransaction, error) {
	if s == nil {
		return nil, errors.New("no signer")
	}
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	return &SignedTransaction{
		Tx:        body,
		PublicKey: s.PublicKey(),
		Signature: s.Sign(body),
	}, nil
}

// SignedTransaction is what travels to the ledger.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Verify checks the signature and that the declared sender matches the
// signing key.
func (s *SignedTransaction) Verify() bool {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	if !ed25519.Verify(s.PublicKey, s.Tx, s.Signature) {
		return false
	}
	tx, err := s.GetTransaction()
	if err != nil {
		return false
	}
	return tx.From.Equal(AddressFromPublicKey(s.PublicKey))
}

// GetTransaction decodes the signed body.
func (s *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// Hash is the hex sha256 of the signed body.
func (s *SignedTransaction) Hash() string {
	sum := sha256.Sum256(s.Tx)
	return hex.EncodeToString(sum[:])
}

// Encode returns the base64 JSON form sent as the "tx" RPC parameter.
func (s *SignedTransaction) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal signed transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeSignedTransaction is the inverse of Encode.
func DecodeSignedTransaction(encoded string) (*SignedTransaction, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 tx: %w", err)
	}
	var s SignedTransaction
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode signed tx: %w", err)
	}
	return &s, nil
}
