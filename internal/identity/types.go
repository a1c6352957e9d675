// Package identity manages the local signing identity and the wallet
// session that hands it to the rest of the client. Each hoodhub user holds
// an ed25519 private key; the account address derived from its public key
// is the author key recorded on the ledger for every message they send.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"

	"hoodhub.chat/hub/internal/ledger"
)

// Identity is a signing identity. It satisfies ledger.Signer.
type Identity struct {
	privateKey   ed25519.PrivateKey
	publicKey    ed25519.PublicKey
	publicKeyHex string
	address      ledger.Address
}

// NewIdentity creates a new Identity from a private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey:   privKey,
		publicKey:    pubKey,
		publicKeyHex: hex.EncodeToString(pubKey),
		address:      ledger.AddressFromPublicKey(pubKey),
	}
}

// Sign signs the provided message with the identity's private key
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.privateKey, message)
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.publicKey, message, signature)
}

// PublicKey returns the raw public key
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// PublicKeyHex returns the hex-encoded public key string
func (i *Identity) PublicKeyHex() string {
	return i.publicKeyHex
}

// Address returns the account address messages are attributed to.
func (i *Identity) Address() ledger.Address {
	return i.address
}
