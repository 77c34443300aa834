// Package oracle defines the external collaborators this library consumes
// but never implements against production infrastructure: a crypto
// provider for signing/verifying/deriving keys, and a chain tracker for
// merkle-root lookups. Grounded on the rubin-protocol pack repo's
// crypto/provider.go capability-interface idiom and crypto/devstd.go
// default-provider pattern, generalized to BSV's secp256k1 + FORKID
// signature scheme and swapped onto a pure-Go ECDSA backend.
package oracle

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

// CryptoProvider is the capability surface the transaction engine calls
// into for every operation that touches a private key or needs signature
// verification (spec.md Non-goals: "the underlying EC/hash primitives are
// not implemented here — consumed via this interface instead").
type CryptoProvider interface {
	// Sign returns a DER-encoded ECDSA signature over digest using the
	// key identified by keyID. The scope byte is NOT part of digest; the
	// caller (pkg/script's P2PKHSigner) appends it to the returned
	// signature before use.
	Sign(keyID string, digest hash.Hash256) ([]byte, error)

	// Verify reports whether der is a valid DER-encoded ECDSA signature
	// over digest under pubKey.
	Verify(pubKey []byte, digest hash.Hash256, der []byte) (bool, error)

	// PublicKey returns the compressed public key for keyID.
	PublicKey(keyID string) ([]byte, error)
}

// StdProvider is the default CryptoProvider, backed by
// decred/dcrd's pure-Go secp256k1 implementation (no cgo, no OpenSSL
// dependency, unlike the teacher's consensus layer). Keys are held
// in-process, keyed by caller-chosen ID; this is a convenience default
// for tests and simple callers, not a hardware-backed signer.
type StdProvider struct {
	keys map[string]*secp256k1.PrivateKey
}

// NewStdProvider returns an empty in-memory provider.
func NewStdProvider() *StdProvider {
	return &StdProvider{keys: make(map[string]*secp256k1.PrivateKey)}
}

// AddKey registers rawKey (32-byte secp256k1 scalar) under keyID.
func (p *StdProvider) AddKey(keyID string, rawKey []byte) error {
	if len(rawKey) != 32 {
		return fmt.Errorf("oracle: private key must be 32 bytes, got %d", len(rawKey))
	}
	priv := secp256k1.PrivKeyFromBytes(rawKey)
	p.keys[keyID] = priv
	return nil
}

func (p *StdProvider) key(keyID string) (*secp256k1.PrivateKey, error) {
	k, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("oracle: unknown key %q", keyID)
	}
	return k, nil
}

// Sign implements CryptoProvider.
func (p *StdProvider) Sign(keyID string, digest hash.Hash256) ([]byte, error) {
	priv, err := p.key(keyID)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize(), nil
}

// Verify implements CryptoProvider.
func (p *StdProvider) Verify(pubKey []byte, digest hash.Hash256, der []byte) (bool, error) {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("oracle: invalid public key: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false, nil // malformed signature is a verification failure, not a fatal error
	}
	return sig.Verify(digest[:], pk), nil
}

// PublicKey implements CryptoProvider.
func (p *StdProvider) PublicKey(keyID string) ([]byte, error) {
	priv, err := p.key(keyID)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}
