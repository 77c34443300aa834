package script

import (
	"fmt"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

// Sighash scope bits (spec.md §4.4).
const (
	SighashAll          byte = 0x01
	SighashNone         byte = 0x02
	SighashSingle       byte = 0x03
	SighashForkID       byte = 0x40
	SighashAnyoneCanPay byte = 0x80

	sighashBaseMask = 0x1f
)

// PreimageInput is the subset of an input's fields needed to build a
// SIGHASH preimage.
type PreimageInput struct {
	PrevTXID hash.Hash256 // natural (internal) byte order
	PrevVout uint32
	Sequence uint32
}

// PreimageOutput is the subset of an output's fields needed to build a
// SIGHASH preimage.
type PreimageOutput struct {
	Satoshis      uint64
	LockingScript []byte
}

// PreimageContext is the transaction-wide data the SIGHASH preimage
// (spec.md §4.4) is computed over. It is a narrow, script-package-local
// view so this package never imports the transaction model (pkg/tx
// instead builds one of these from a real Transaction and calls
// ComputeSighash) — the same "small capability surface, no upward
// dependency" shape as the teacher's ScriptEngine, which only ever
// receives the pieces of *Transaction it needs.
type PreimageContext struct {
	Version  uint32
	Inputs   []PreimageInput
	Outputs  []PreimageOutput
	LockTime uint32
}

// ValidateScope reports whether scope is a well-formed SIGHASH scope
// byte: a base type in {ALL, NONE, SINGLE}, mandatory FORKID, and no
// unrecognized bits (spec.md §4.4: "Any other bits fail as
// InvalidSighashFlag").
func ValidateScope(scope byte) error {
	base := scope & sighashBaseMask
	if base != SighashAll && base != SighashNone && base != SighashSingle {
		return fmt.Errorf("sighash: invalid base type 0x%02x", base)
	}
	if scope&SighashForkID == 0 {
		return fmt.Errorf("sighash: FORKID bit required")
	}
	known := SighashAll | SighashNone | SighashSingle | SighashForkID | SighashAnyoneCanPay
	if scope&^known != 0 {
		return fmt.Errorf("sighash: unrecognized bits in scope 0x%02x", scope)
	}
	return nil
}

// ComputeSighash builds the BIP-143-derived, FORKID-hardened SIGHASH
// preimage (spec.md §4.4) and returns its double-SHA-256 digest, the
// value actually signed/verified by OP_CHECKSIG.
//
// subScript is the current locking script from the most recent
// OP_CODESEPARATOR to the end, with the exact signature bytes removed
// (spec.md §4.3 step 2); callers (the interpreter, or a signer building a
// brand-new signature) are responsible for producing it.
func ComputeSighash(ctx PreimageContext, inputIndex int, subScript []byte, inputValue uint64, scope byte) (hash.Hash256, error) {
	if err := ValidateScope(scope); err != nil {
		return hash.Zero256, err
	}
	if inputIndex < 0 || inputIndex >= len(ctx.Inputs) {
		return hash.Zero256, fmt.Errorf("sighash: input index %d out of range", inputIndex)
	}

	anyoneCanPay := scope&SighashAnyoneCanPay != 0
	base := scope & sighashBaseMask

	hashPrevouts := hash.Zero256
	if !anyoneCanPay {
		var buf []byte
		for _, in := range ctx.Inputs {
			buf = append(buf, in.PrevTXID[:]...)
			buf = appendU32LE(buf, in.PrevVout)
		}
		hashPrevouts = hash.Sha256d(buf)
	}

	hashSequence := hash.Zero256
	if !anyoneCanPay && base == SighashAll {
		var buf []byte
		for _, in := range ctx.Inputs {
			buf = appendU32LE(buf, in.Sequence)
		}
		hashSequence = hash.Sha256d(buf)
	}

	hashOutputs := hash.Zero256
	switch {
	case base == SighashAll:
		var buf []byte
		for _, out := range ctx.Outputs {
			buf = appendU64LE(buf, out.Satoshis)
			buf = appendVarBytes(buf, out.LockingScript)
		}
		hashOutputs = hash.Sha256d(buf)
	case base == SighashSingle:
		if inputIndex < len(ctx.Outputs) {
			out := ctx.Outputs[inputIndex]
			var buf []byte
			buf = appendU64LE(buf, out.Satoshis)
			buf = appendVarBytes(buf, out.LockingScript)
			hashOutputs = hash.Sha256d(buf)
		}
		// else: out of range, stays zero (spec.md §8 boundary behavior).
	}
	// SighashNone: hashOutputs stays zero.

	in := ctx.Inputs[inputIndex]

	var preimage []byte
	preimage = appendU32LE(preimage, ctx.Version)
	preimage = append(preimage, hashPrevouts[:]...)
	preimage = append(preimage, hashSequence[:]...)
	preimage = append(preimage, in.PrevTXID[:]...)
	preimage = appendU32LE(preimage, in.PrevVout)
	preimage = appendVarBytes(preimage, subScript)
	preimage = appendU64LE(preimage, inputValue)
	preimage = appendU32LE(preimage, in.Sequence)
	preimage = append(preimage, hashOutputs[:]...)
	preimage = appendU32LE(preimage, ctx.LockTime)
	preimage = appendU32LE(preimage, uint32(scope))

	return hash.Sha256d(preimage), nil
}

func appendU32LE(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64LE(dst []byte, v uint64) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendVarBytes(dst []byte, data []byte) []byte {
	n := uint64(len(data))
	switch {
	case n < 0xfd:
		dst = append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd, byte(n), byte(n>>8))
	case n <= 0xffffffff:
		dst = append(dst, 0xfe, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	default:
		dst = append(dst, 0xff, byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
			byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
	}
	return append(dst, data...)
}
