// Package hash provides the fixed-size hash types shared across the
// transaction engine: Hash256 (TXIDs, merkle nodes, sighash digests) and
// Hash160 (P2PKH/P2SH script hashes).
package hash

import (
	"crypto/sha1" //nolint:gosec // OP_SHA1 is a legacy script opcode, not used for any security property here
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 has no modern replacement; Bitcoin's HASH160 requires it
)

// Hash256 is a 32-byte hash. Bitcoin conventionally displays these
// reversed (little-endian serialization, big-endian display).
type Hash256 [32]byte

// Zero256 is the all-zero Hash256, used for null prevouts and absent
// sighash components.
var Zero256 = Hash256{}

// Hash160 is a 20-byte hash, the output of HASH160 (RIPEMD160(SHA256(x))).
type Hash160 [20]byte

// Zero160 is the all-zero Hash160.
var Zero160 = Hash160{}

// Sha256 returns the single SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Sha256d returns SHA-256(SHA-256(data)), Bitcoin's double hash.
func Sha256d(data []byte) Hash256 {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash256(second)
}

// Ripemd160 returns the RIPEMD-160 digest of data.
func Ripemd160(data []byte) Hash160 {
	h := ripemd160.New()
	_, _ = h.Write(data)
	var out Hash160
	copy(out[:], h.Sum(nil))
	return out
}

// Sha1 returns the SHA-1 digest of data, backing the legacy OP_SHA1
// script opcode. No other part of the library relies on it.
func Sha1(data []byte) [20]byte {
	return sha1.Sum(data)
}

// Hash160Of returns RIPEMD160(SHA256(data)), Bitcoin's HASH160.
func Hash160Of(data []byte) Hash160 {
	sh := sha256.Sum256(data)
	return Ripemd160(sh[:])
}

// From32 builds a Hash256 from a 32-byte slice.
func From32(b []byte) (Hash256, error) {
	var h Hash256
	if len(b) != 32 {
		return h, fmt.Errorf("hash: expected 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// From20 builds a Hash160 from a 20-byte slice.
func From20(b []byte) (Hash160, error) {
	var h Hash160
	if len(b) != 20 {
		return h, fmt.Errorf("hash: expected 20 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the hash as a byte slice in its natural (internal) order.
func (h Hash256) Bytes() []byte { return h[:] }

// Bytes returns the hash as a byte slice.
func (h Hash160) Bytes() []byte { return h[:] }

// Reversed returns a copy of the hash with byte order reversed. Bitcoin
// displays TXIDs in reversed byte order relative to wire serialization.
func (h Hash256) Reversed() Hash256 {
	var out Hash256
	for i := range h {
		out[i] = h[len(h)-1-i]
	}
	return out
}

// String prints the hash reversed, matching conventional TXID display.
func (h Hash256) String() string {
	r := h.Reversed()
	return hex.EncodeToString(r[:])
}

// StringNatural prints the hash in wire/natural byte order, without the
// display reversal (used for e.g. the Atomic-BEEF subject field, which
// the format specifies in natural byte order).
func (h Hash256) StringNatural() string {
	return hex.EncodeToString(h[:])
}

// String prints the hash160 in natural byte order.
func (h Hash160) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash256) IsZero() bool { return h == Zero256 }

// IsZero reports whether the hash is all zero bytes.
func (h Hash160) IsZero() bool { return h == Zero160 }

// FromHexString parses a reversed-display hex string (as produced by
// String) back into a Hash256.
func FromHexString(s string) (Hash256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero256, fmt.Errorf("hash: invalid hex: %w", err)
	}
	h, err := From32(b)
	if err != nil {
		return Zero256, err
	}
	return h.Reversed(), nil
}
