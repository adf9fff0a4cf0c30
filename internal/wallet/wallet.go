// Package wallet holds the signing context threaded through every
// ledger mutation.
//
// There is deliberately no ambient singleton: callers construct a
// Wallet once and pass it to the components that submit transactions.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/mkarrer/swapdesk/internal/pubkey"
)

var (
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")
	ErrNilMessage        = errors.New("wallet: nil message")
)

// Signer is the opaque sign capability consumed by the transaction
// builder. Anything that can produce an ed25519 signature over a
// compiled message qualifies.
type Signer interface {
	Address() pubkey.PublicKey
	SignMessage(msg []byte) ([]byte, error)
}

// Wallet is an in-process ed25519 keypair.
type Wallet struct {
	priv ed25519.PrivateKey
	addr pubkey.PublicKey
}

var _ Signer = (*Wallet)(nil)

// New wraps an existing ed25519 private key.
func New(priv ed25519.PrivateKey) (*Wallet, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPrivateKey, len(priv))
	}
	addr, err := pubkey.FromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &Wallet{priv: priv, addr: addr}, nil
}

// FromBase58 decodes a base58-encoded 64-byte private key, the format
// most ledger tooling exports.
func FromBase58(s string) (*Wallet, error) {
	raw := base58.Decode(s)
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: decodes to %d bytes", ErrInvalidPrivateKey, len(raw))
	}
	return New(ed25519.PrivateKey(raw))
}

// Generate creates a fresh keypair. Used by tests and local tooling.
func Generate() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return New(priv)
}

// Address returns the wallet's public key.
func (w *Wallet) Address() pubkey.PublicKey {
	return w.addr
}

// SignMessage signs a compiled transaction message.
func (w *Wallet) SignMessage(msg []byte) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	return ed25519.Sign(w.priv, msg), nil
}
