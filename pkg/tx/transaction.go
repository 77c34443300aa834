// Package tx implements the transaction data model: legacy wire
// serialization, TXID computation, the Extended Format used to carry
// input values alongside a transaction, and the signing step that ties
// the SIGHASH preimage builder to real transaction data. Fees are not
// computed here: Transaction has no fee method, and output values are
// whatever the caller sets (pkg/feemodel.Solve computes change amounts
// from script lengths).
//
// Grounded on the bitcoinecho-node teacher's pkg/bitcoin/transaction.go,
// whose Transaction/TxInput/TxOutput/OutPoint shapes and VarInt-based
// wire codec this package completes: real TXID hashing (the teacher left
// Hash()/WitnessHash() as TODO stubs returning a zero hash), the Extended
// Format BSV layers on top of the legacy format, and a sign lifecycle the
// teacher's model never had.
package tx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/merklepath"
	"github.com/bitcoinecho/txkit/pkg/script"
	"github.com/bitcoinecho/txkit/pkg/txbin"
)

// Outpoint references a specific output of a previous transaction.
type Outpoint struct {
	TXID hash.Hash256 // natural (internal) byte order
	Vout uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TXID.String(), o.Vout)
}

// Input is one input of a transaction under construction or already
// signed. Exactly one of SourceTXID or SourceTransaction should be set:
// SourceTransaction carries the full ancestor (needed to compute input
// value and locking script for signing); SourceTXID is enough once the
// input is already signed and only serialization is needed.
type Input struct {
	SourceTXID        hash.Hash256
	SourceTransaction *Transaction // optional: the ancestor, for signing
	SourceOutputIndex uint32
	Sequence          uint32

	UnlockingScript         *script.Script // set once signed
	UnlockingScriptTemplate script.Unlocker // set before signing

	// SourceSatoshis/SourceLockingScript let a caller sign an input
	// whose ancestor transaction isn't held in full (e.g. a pruned UTXO
	// set entry), without requiring SourceTransaction.
	SourceSatoshis      uint64
	SourceLockingScript *script.Script
}

// LockingScript resolves the locking script of the output this input
// spends, from either the ancestor transaction or the inline Extended
// Format fields.
func (in *Input) LockingScript() (*script.Script, error) {
	return in.sourceLockingScript()
}

// Outpoint returns the prevout this input spends.
func (in *Input) Outpoint() Outpoint {
	txid := in.SourceTXID
	if in.SourceTransaction != nil {
		txid = in.SourceTransaction.TXID()
	}
	return Outpoint{TXID: txid, Vout: in.SourceOutputIndex}
}

// sourceSatoshis resolves the value of the output this input spends.
func (in *Input) sourceSatoshis() (uint64, error) {
	if in.SourceTransaction != nil {
		if int(in.SourceOutputIndex) >= len(in.SourceTransaction.Outputs) {
			return 0, fmt.Errorf("tx: source output index %d out of range", in.SourceOutputIndex)
		}
		return in.SourceTransaction.Outputs[in.SourceOutputIndex].Satoshis, nil
	}
	if in.SourceLockingScript != nil {
		return in.SourceSatoshis, nil
	}
	return 0, fmt.Errorf("tx: input has no source transaction or source locking script")
}

func (in *Input) sourceLockingScript() (*script.Script, error) {
	if in.SourceTransaction != nil {
		if int(in.SourceOutputIndex) >= len(in.SourceTransaction.Outputs) {
			return nil, fmt.Errorf("tx: source output index %d out of range", in.SourceOutputIndex)
		}
		return in.SourceTransaction.Outputs[in.SourceOutputIndex].LockingScript, nil
	}
	if in.SourceLockingScript != nil {
		return in.SourceLockingScript, nil
	}
	return nil, fmt.Errorf("tx: input has no source transaction or source locking script")
}

// Output is one output of a transaction.
type Output struct {
	Satoshis      uint64
	LockingScript *script.Script

	// Change marks an output whose value the fee engine (pkg/feemodel)
	// is free to adjust to balance the transaction.
	Change bool
}

// Transaction is a BSV transaction under construction or already signed.
type Transaction struct {
	Version  uint32
	Inputs   []*Input
	Outputs  []*Output
	LockTime uint32

	// MerklePath is set once this transaction is known to be mined; its
	// presence is what lets SPV verification (pkg/spv) treat this
	// transaction as an anchored ancestor instead of recursing further.
	MerklePath *merklepath.Path

	txidCache *hash.Hash256
}

// New returns an empty version-1 transaction with no locktime.
func New() *Transaction {
	return &Transaction{Version: 1}
}

// AddInput appends an input.
func (t *Transaction) AddInput(in *Input) { t.Inputs = append(t.Inputs, in); t.txidCache = nil }

// AddOutput appends an output.
func (t *Transaction) AddOutput(out *Output) { t.Outputs = append(t.Outputs, out); t.txidCache = nil }

// Serialize encodes the transaction in legacy wire format (spec.md §4.5).
func (t *Transaction) Serialize() []byte {
	var buf []byte
	buf = txbin.AppendU32LE(buf, t.Version)
	buf = append(buf, txbin.VarInt(uint64(len(t.Inputs)))...)
	for _, in := range t.Inputs {
		op := in.Outpoint()
		buf = txbin.AppendReversed(buf, op.TXID)
		buf = txbin.AppendU32LE(buf, op.Vout)
		var sig []byte
		if in.UnlockingScript != nil {
			sig = in.UnlockingScript.ToBinary()
		}
		buf = txbin.AppendVarBytes(buf, sig)
		buf = txbin.AppendU32LE(buf, in.Sequence)
	}
	buf = append(buf, txbin.VarInt(uint64(len(t.Outputs)))...)
	for _, out := range t.Outputs {
		buf = txbin.AppendU64LE(buf, out.Satoshis)
		var ls []byte
		if out.LockingScript != nil {
			ls = out.LockingScript.ToBinary()
		}
		buf = txbin.AppendVarBytes(buf, ls)
	}
	buf = txbin.AppendU32LE(buf, t.LockTime)
	return buf
}

// FromBinary parses the legacy wire format (spec.md §4.5). Inputs are
// left with only SourceTXID/SourceOutputIndex populated (no ancestor
// data): callers needing to sign or verify need to attach
// SourceTransaction/SourceLockingScript separately, e.g. via a BEEF
// bundle (pkg/beef).
func FromBinary(data []byte) (*Transaction, error) {
	return ParseFrom(txbin.NewReader(data))
}

// ParseFrom parses a legacy-format transaction from r, leaving the reader
// positioned just past the transaction's bytes. This lets callers (e.g.
// pkg/beef) parse several back-to-back transactions out of one shared
// buffer without knowing each one's length in advance.
func ParseFrom(r *txbin.Reader) (*Transaction, error) {
	t := &Transaction{}
	var err error
	if t.Version, err = r.U32(); err != nil {
		return nil, fmt.Errorf("tx: version: %w", err)
	}
	nIn, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("tx: input count: %w", err)
	}
	t.Inputs = make([]*Input, nIn)
	for i := range t.Inputs {
		txid, err := r.ReversedHash256()
		if err != nil {
			return nil, fmt.Errorf("tx: input %d prev txid: %w", i, err)
		}
		vout, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("tx: input %d prev index: %w", i, err)
		}
		sigBytes, err := r.VarBytes()
		if err != nil {
			return nil, fmt.Errorf("tx: input %d unlocking script: %w", i, err)
		}
		sig, err := script.FromBinary(sigBytes)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d unlocking script parse: %w", i, err)
		}
		seq, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("tx: input %d sequence: %w", i, err)
		}
		t.Inputs[i] = &Input{
			SourceTXID:        hash.Hash256(txid),
			SourceOutputIndex: vout,
			UnlockingScript:   sig,
			Sequence:          seq,
		}
	}
	nOut, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("tx: output count: %w", err)
	}
	t.Outputs = make([]*Output, nOut)
	for i := range t.Outputs {
		sats, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("tx: output %d value: %w", i, err)
		}
		lsBytes, err := r.VarBytes()
		if err != nil {
			return nil, fmt.Errorf("tx: output %d locking script: %w", i, err)
		}
		ls, err := script.FromBinary(lsBytes)
		if err != nil {
			return nil, fmt.Errorf("tx: output %d locking script parse: %w", i, err)
		}
		t.Outputs[i] = &Output{Satoshis: sats, LockingScript: ls}
	}
	if t.LockTime, err = r.U32(); err != nil {
		return nil, fmt.Errorf("tx: locktime: %w", err)
	}
	return t, nil
}

// TXID returns the transaction ID: SHA256d(legacy serialization) in
// natural (internal) byte order; its String method gives the reversed
// display form (spec.md §4.5).
func (t *Transaction) TXID() hash.Hash256 {
	if t.txidCache != nil {
		return *t.txidCache
	}
	h := hash.Sha256d(t.Serialize())
	t.txidCache = &h
	return h
}

// extendedFormatMarker is the 6-byte marker
// (0000000000EF) BSV's Extended Format inserts between the version and
// the input count to distinguish EF-encoded transactions from legacy
// ones (spec.md §4.6).
var extendedFormatMarker = [6]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xef}

// SerializeEF encodes the transaction in Extended Format: the legacy
// layout with the marker inserted after the version, and each input
// carrying its source satoshis + locking script inline so a verifier
// never needs a separate UTXO lookup (spec.md §4.6). Every input must
// have its source value/locking script resolvable (SourceTransaction or
// SourceLockingScript set).
func (t *Transaction) SerializeEF() ([]byte, error) {
	var buf []byte
	buf = txbin.AppendU32LE(buf, t.Version)
	buf = append(buf, extendedFormatMarker[:]...)
	buf = append(buf, txbin.VarInt(uint64(len(t.Inputs)))...)
	for i, in := range t.Inputs {
		op := in.Outpoint()
		buf = txbin.AppendReversed(buf, op.TXID)
		buf = txbin.AppendU32LE(buf, op.Vout)
		var sig []byte
		if in.UnlockingScript != nil {
			sig = in.UnlockingScript.ToBinary()
		}
		buf = txbin.AppendVarBytes(buf, sig)
		buf = txbin.AppendU32LE(buf, in.Sequence)

		sats, err := in.sourceSatoshis()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d: %w", i, err)
		}
		ls, err := in.sourceLockingScript()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d: %w", i, err)
		}
		buf = txbin.AppendU64LE(buf, sats)
		buf = txbin.AppendVarBytes(buf, ls.ToBinary())
	}
	buf = append(buf, txbin.VarInt(uint64(len(t.Outputs)))...)
	for _, out := range t.Outputs {
		buf = txbin.AppendU64LE(buf, out.Satoshis)
		var ls []byte
		if out.LockingScript != nil {
			ls = out.LockingScript.ToBinary()
		}
		buf = txbin.AppendVarBytes(buf, ls)
	}
	buf = txbin.AppendU32LE(buf, t.LockTime)
	return buf, nil
}

// IsExtendedFormat reports whether data carries the Extended Format
// marker at the expected offset.
func IsExtendedFormat(data []byte) bool {
	return len(data) >= 10 && bytes.Equal(data[4:10], extendedFormatMarker[:])
}

// FromEF parses the Extended Format (spec.md §4.6), populating each
// input's SourceSatoshis/SourceLockingScript directly from the inline
// data rather than requiring an ancestor transaction.
func FromEF(data []byte) (*Transaction, error) {
	if !IsExtendedFormat(data) {
		return nil, fmt.Errorf("tx: not extended format")
	}
	r := txbin.NewReader(data)
	t := &Transaction{}
	var err error
	if t.Version, err = r.U32(); err != nil {
		return nil, fmt.Errorf("tx: EF version: %w", err)
	}
	if _, err := r.Bytes(6); err != nil {
		return nil, fmt.Errorf("tx: EF marker: %w", err)
	}
	nIn, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("tx: EF input count: %w", err)
	}
	t.Inputs = make([]*Input, nIn)
	for i := range t.Inputs {
		txid, err := r.ReversedHash256()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d prev txid: %w", i, err)
		}
		vout, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d prev index: %w", i, err)
		}
		sigBytes, err := r.VarBytes()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d unlocking script: %w", i, err)
		}
		sig, err := script.FromBinary(sigBytes)
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d unlocking script parse: %w", i, err)
		}
		seq, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d sequence: %w", i, err)
		}
		sats, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d source satoshis: %w", i, err)
		}
		lsBytes, err := r.VarBytes()
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d source locking script: %w", i, err)
		}
		ls, err := script.FromBinary(lsBytes)
		if err != nil {
			return nil, fmt.Errorf("tx: EF input %d source locking script parse: %w", i, err)
		}
		t.Inputs[i] = &Input{
			SourceTXID:          hash.Hash256(txid),
			SourceOutputIndex:   vout,
			UnlockingScript:     sig,
			Sequence:            seq,
			SourceSatoshis:      sats,
			SourceLockingScript: ls,
		}
	}
	nOut, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("tx: EF output count: %w", err)
	}
	t.Outputs = make([]*Output, nOut)
	for i := range t.Outputs {
		sats, err := r.U64()
		if err != nil {
			return nil, fmt.Errorf("tx: EF output %d value: %w", i, err)
		}
		lsBytes, err := r.VarBytes()
		if err != nil {
			return nil, fmt.Errorf("tx: EF output %d locking script: %w", i, err)
		}
		ls, err := script.FromBinary(lsBytes)
		if err != nil {
			return nil, fmt.Errorf("tx: EF output %d locking script parse: %w", i, err)
		}
		t.Outputs[i] = &Output{Satoshis: sats, LockingScript: ls}
	}
	if t.LockTime, err = r.U32(); err != nil {
		return nil, fmt.Errorf("tx: EF locktime: %w", err)
	}
	return t, nil
}

// TotalOutputSatoshis sums every output's value.
func (t *Transaction) TotalOutputSatoshis() uint64 {
	var total uint64
	for _, o := range t.Outputs {
		total += o.Satoshis
	}
	return total
}

// TotalInputSatoshis sums every input's resolvable source value. It
// returns an error if any input's source is unresolvable.
func (t *Transaction) TotalInputSatoshis() (uint64, error) {
	var total uint64
	for i, in := range t.Inputs {
		v, err := in.sourceSatoshis()
		if err != nil {
			return 0, fmt.Errorf("tx: input %d: %w", i, err)
		}
		total += v
	}
	return total, nil
}

// preimageContext builds the script-package-local sighash context from
// this transaction's current state.
func (t *Transaction) preimageContext() script.PreimageContext {
	ctx := script.PreimageContext{
		Version:  t.Version,
		LockTime: t.LockTime,
	}
	for _, in := range t.Inputs {
		op := in.Outpoint()
		ctx.Inputs = append(ctx.Inputs, script.PreimageInput{
			PrevTXID: op.TXID,
			PrevVout: op.Vout,
			Sequence: in.Sequence,
		})
	}
	for _, out := range t.Outputs {
		var ls []byte
		if out.LockingScript != nil {
			ls = out.LockingScript.ToBinary()
		}
		ctx.Outputs = append(ctx.Outputs, script.PreimageOutput{
			Satoshis:      out.Satoshis,
			LockingScript: ls,
		})
	}
	return ctx
}

// Sighash computes the SIGHASH digest for inputIndex under scope,
// against this transaction's current input/output set (spec.md §4.4).
// It uses the input's full source locking script as the subscript, which
// is only correct when that script contains no OP_CODESEPARATOR: callers
// verifying an already-built script (the interpreter, or anything acting
// as a script.SignatureChecker) must use SighashWithSubScript instead, so
// the digest is computed over the actual codeseparator-trimmed,
// signature-stripped subscript the engine evaluated against.
func (t *Transaction) Sighash(inputIndex int, scope byte) (hash.Hash256, error) {
	in, err := t.inputAt(inputIndex)
	if err != nil {
		return hash.Zero256, err
	}
	sub, err := in.sourceLockingScript()
	if err != nil {
		return hash.Zero256, err
	}
	return t.SighashWithSubScript(inputIndex, scope, sub.ToBinary())
}

// SighashWithSubScript computes the SIGHASH digest for inputIndex under
// scope using the caller-supplied subScript bytes rather than the input's
// stored source locking script (spec.md §4.3-4.4: OP_CHECKSIG signs over
// the subscript from the last OP_CODESEPARATOR to the end, with the
// signature bytes themselves removed — not necessarily the whole locking
// script). A script.SignatureChecker built against a *Transaction must
// call this with the subScript the interpreter actually evaluated.
func (t *Transaction) SighashWithSubScript(inputIndex int, scope byte, subScript []byte) (hash.Hash256, error) {
	in, err := t.inputAt(inputIndex)
	if err != nil {
		return hash.Zero256, err
	}
	value, err := in.sourceSatoshis()
	if err != nil {
		return hash.Zero256, err
	}
	return script.ComputeSighash(t.preimageContext(), inputIndex, subScript, value, scope)
}

func (t *Transaction) inputAt(inputIndex int) (*Input, error) {
	if inputIndex < 0 || inputIndex >= len(t.Inputs) {
		return nil, fmt.Errorf("tx: input index %d out of range", inputIndex)
	}
	return t.Inputs[inputIndex], nil
}

// Sign walks every input with an UnlockingScriptTemplate set and replaces
// it with a concrete UnlockingScript, by calling the template's Sign
// method with this transaction as the opaque signing context (spec.md
// §4.8-4.9: "sign() lifecycle"). Inputs that already carry a concrete
// UnlockingScript are left untouched.
func (t *Transaction) Sign(ctx context.Context) error {
	_ = ctx
	for i, in := range t.Inputs {
		if in.UnlockingScript != nil || in.UnlockingScriptTemplate == nil {
			continue
		}
		s, err := in.UnlockingScriptTemplate.Sign(t, i)
		if err != nil {
			return fmt.Errorf("tx: signing input %d: %w", i, err)
		}
		in.UnlockingScript = s
	}
	return nil
}

// IsCoinbase reports whether this is a coinbase transaction.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 &&
		t.Inputs[0].SourceTransaction == nil &&
		t.Inputs[0].SourceTXID.IsZero() &&
		t.Inputs[0].SourceOutputIndex == 0xffffffff
}
