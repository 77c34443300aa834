package script

import (
	"fmt"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

// Unlocker builds the unlocking script for one input of a transaction
// being signed (spec.md §4.8: "templates produce an unlocking script
// given the transaction and input index"). Sign is handed the complete
// signing context by the caller (pkg/tx) rather than reaching for global
// state, matching the teacher's no-package-globals idiom.
type Unlocker interface {
	// Sign produces the unlocking script for inputIndex of tx. tx is an
	// opaque signing context (pkg/tx's *Transaction implements whatever
	// this template needs via a narrow local interface); keeping the
	// parameter here as `any` avoids pkg/script importing pkg/tx.
	Sign(tx any, inputIndex int) (*Script, error)

	// EstimatedLength returns the unlocking script's expected serialized
	// length in bytes, used by the fee/change engine (spec.md §4.9)
	// before a real signature exists.
	EstimatedLength() int
}

// P2PKHLockingScript builds the standard
// OP_DUP OP_HASH160 <pubKeyHash> OP_EQUALVERIFY OP_CHECKSIG locking script.
func P2PKHLockingScript(pubKeyHash hash.Hash160) *Script {
	s := New()
	s.PushOpcode(OP_DUP)
	s.PushOpcode(OP_HASH160)
	s.PushData(pubKeyHash[:])
	s.PushOpcode(OP_EQUALVERIFY)
	s.PushOpcode(OP_CHECKSIG)
	return s
}

// P2PKHUnlockingScript builds the <sig><pubKey> unlocking script for a
// completed signature.
func P2PKHUnlockingScript(sigWithScope, pubKey []byte) *Script {
	s := New()
	s.PushData(sigWithScope)
	s.PushData(pubKey)
	return s
}

// Sighasher is the narrow view of a signing context a script template
// needs: compute the SIGHASH digest for one of its own inputs. pkg/tx's
// *Transaction implements this; keeping the interface here (rather than
// importing pkg/tx) keeps the dependency edge pointing the other way.
type Sighasher interface {
	Sighash(inputIndex int, scope byte) (hash.Hash256, error)
}

// P2PKHSigner is the Unlocker implementation for standard P2PKH inputs:
// it asks the signing context for the SIGHASH digest, signs it via the
// caller-supplied Sign function (normally closing over an
// oracle.CryptoProvider and a key ID), and packages the result into a
// <sig><pubKey> unlocking script.
type P2PKHSigner struct {
	PubKey []byte
	Scope  byte
	// Sign produces a DER-encoded ECDSA signature over digest; supplied
	// by the caller so pkg/script never sees a private key directly.
	Sign func(digest hash.Hash256) ([]byte, error)
}

// Sign implements Unlocker.
func (p P2PKHSigner) Sign(tx any, inputIndex int) (*Script, error) {
	sh, ok := tx.(Sighasher)
	if !ok {
		return nil, fmt.Errorf("script: signing context does not implement Sighasher")
	}
	if p.Sign == nil {
		return nil, fmt.Errorf("script: P2PKHSigner has no Sign function")
	}
	scope := p.Scope
	if scope == 0 {
		scope = SighashAll | SighashForkID
	}
	digest, err := sh.Sighash(inputIndex, scope)
	if err != nil {
		return nil, fmt.Errorf("script: computing sighash: %w", err)
	}
	der, err := p.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("script: signing failed: %w", err)
	}
	sigWithScope := append(append([]byte(nil), der...), scope)
	return P2PKHUnlockingScript(sigWithScope, p.PubKey), nil
}

// p2pkhEstimatedUnlockingLength is the canonical estimate (spec.md §4.9):
// a 1-byte push opcode + up to 72-byte DER signature + 1-byte scope, plus
// a 1-byte push opcode + 33-byte compressed public key.
const p2pkhEstimatedUnlockingLength = 1 + 72 + 1 + 1 + 33

// EstimatedLength implements Unlocker.
func (P2PKHSigner) EstimatedLength() int { return p2pkhEstimatedUnlockingLength }

// P2PKHEstimator reports the standard worst-case unlocking-script length
// used for fee estimation before a real signature is available, for
// inputs that don't need a full P2PKHSigner (e.g. external/watch-only
// inputs already known to be P2PKH).
type P2PKHEstimator struct{}

// EstimatedLength implements Unlocker.
func (P2PKHEstimator) EstimatedLength() int { return p2pkhEstimatedUnlockingLength }

// Sign implements Unlocker for P2PKHEstimator by refusing: it exists only
// for size estimation before a signing key is available.
func (P2PKHEstimator) Sign(any, int) (*Script, error) {
	return nil, fmt.Errorf("script: P2PKHEstimator cannot produce a real signature")
}
