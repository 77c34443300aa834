// Package beef implements the BEEF (Background Evaluation Extended
// Format) binary container: a topologically ordered bundle of
// transactions plus the deduplicated Merkle paths (BUMPs) needed to
// verify every mined ancestor offline, and the Atomic-BEEF framing that
// pins a single subject transaction inside a bundle.
//
// Grounded on the bitcoinecho-node teacher's VarInt-based wire codec
// (pkg/bitcoin/transaction.go) and pkg/tx's transaction parser, extended
// with the BUMP-index/dedup bookkeeping and topological-order validation
// the BEEF format needs that no teacher file anticipated.
package beef

import (
	"fmt"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/merklepath"
	"github.com/bitcoinecho/txkit/pkg/tx"
	"github.com/bitcoinecho/txkit/pkg/txbin"
)

// Version tags a BEEF bundle (spec.md §4.7).
type Version uint32

const (
	V1 Version = 0x0100BEEF
	V2 Version = 0x0200BEEF
)

// ErrUnknownVersion is returned for a magic value that isn't V1 or V2.
type ErrUnknownVersion struct{ Got uint32 }

func (e *ErrUnknownVersion) Error() string {
	return fmt.Sprintf("beef: unknown version tag 0x%08x", e.Got)
}

// ErrDanglingReference is returned when a non-mined transaction's input
// references a TXID this bundle never supplies.
type ErrDanglingReference struct{ TXID hash.Hash256 }

func (e *ErrDanglingReference) Error() string {
	return fmt.Sprintf("beef: dangling reference to unresolved parent %s", e.TXID)
}

// TxEntry is one transaction in the bundle, either mined (carrying a BUMP
// index into Bundle.BUMPs) or unmined (a bare transaction whose inputs
// must resolve to earlier entries).
type TxEntry struct {
	Transaction *tx.Transaction
	BUMPIndex   int  // valid iff HasBump
	HasBump     bool
	HasParents  bool // V2 only: true means "opaque, ancestry intentionally omitted"
}

// Bundle is a parsed BEEF container.
type Bundle struct {
	Version Version
	BUMPs   []*merklepath.Path
	TxEntries []*TxEntry
}

// TXID returns the entry's transaction ID.
func (e *TxEntry) TXID() hash.Hash256 { return e.Transaction.TXID() }

// ByTXID returns the entry for txid, or nil.
func (b *Bundle) ByTXID(txid hash.Hash256) *TxEntry {
	for _, e := range b.TxEntries {
		if e.TXID() == txid {
			return e
		}
	}
	return nil
}

// Subject walks the bundle's transactions looking for the one with the
// fewest descendants inside the bundle — i.e. the transaction nothing
// else in the bundle spends from. For a well-formed bundle built by
// New/AddTransaction this is unique; callers that built a bundle with
// multiple independent subjects should instead track the TXID they care
// about directly and call ByTXID.
func (b *Bundle) Subject() (*TxEntry, error) {
	spent := make(map[hash.Hash256]bool)
	for _, e := range b.TxEntries {
		for _, in := range e.Transaction.Inputs {
			spent[in.SourceTXID] = true
		}
	}
	var candidates []*TxEntry
	for _, e := range b.TxEntries {
		if !spent[e.TXID()] {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) != 1 {
		return nil, fmt.Errorf("beef: bundle has %d un-spent transactions, cannot infer a unique subject", len(candidates))
	}
	return candidates[0], nil
}

// New builds an empty V1 bundle.
func New() *Bundle {
	return &Bundle{Version: V1}
}

// addBUMP returns the index of an equivalent existing BUMP (same block
// height and identical leaves at every level), or appends path as a new one (spec.md §4.7
// dedup rule: "two TXIDs sharing a Merkle path must point at the same
// BUMP index").
func (b *Bundle) addBUMP(path *merklepath.Path) int {
	for i, existing := range b.BUMPs {
		if bumpsEqual(existing, path) {
			return i
		}
	}
	b.BUMPs = append(b.BUMPs, path)
	return len(b.BUMPs) - 1
}

func bumpsEqual(a, bPath *merklepath.Path) bool {
	if a.BlockHeight != bPath.BlockHeight || len(a.Levels) != len(bPath.Levels) {
		return false
	}
	for l := range a.Levels {
		if len(a.Levels[l]) != len(bPath.Levels[l]) {
			return false
		}
		for i := range a.Levels[l] {
			if a.Levels[l][i] != bPath.Levels[l][i] {
				return false
			}
		}
	}
	return true
}

// AddTransaction appends t to the bundle. If path is non-nil, t is
// recorded as mined with that Merkle path (deduplicated against any
// equivalent BUMP already present); otherwise it's recorded as unmined
// and must be spendable only from TXIDs already in the bundle.
// Transactions byte-identical to one already present are not duplicated
// (spec.md §4.7: "Two ancestor Transactions with equal bytes appear
// once").
func (b *Bundle) AddTransaction(t *tx.Transaction, path *merklepath.Path) {
	txid := t.TXID()
	if existing := b.ByTXID(txid); existing != nil {
		return
	}
	entry := &TxEntry{Transaction: t}
	if path != nil {
		entry.HasBump = true
		entry.BUMPIndex = b.addBUMP(path)
	}
	b.TxEntries = append(b.TxEntries, entry)
}

// ValidateTopology checks that every unmined transaction's inputs
// reference either a mined transaction (via an earlier entry's BUMP) or a
// TXID appearing at an earlier position in TxEntries (spec.md §4.7, §8:
// "BEEF topological order").
func (b *Bundle) ValidateTopology() error {
	seen := make(map[hash.Hash256]bool)
	for _, e := range b.TxEntries {
		if !e.HasBump && !e.HasParents {
			for _, in := range e.Transaction.Inputs {
				if !seen[in.SourceTXID] {
					return &ErrDanglingReference{TXID: in.SourceTXID}
				}
			}
		}
		seen[e.TXID()] = true
	}
	return nil
}

// ToBinary serializes the bundle in the V1/V2 layout (spec.md §4.7).
func (b *Bundle) ToBinary() []byte {
	var buf []byte
	buf = txbin.AppendU32LE(buf, uint32(b.Version))
	buf = append(buf, txbin.VarInt(uint64(len(b.BUMPs)))...)
	for _, bump := range b.BUMPs {
		buf = append(buf, bump.ToBinary()...)
	}
	buf = append(buf, txbin.VarInt(uint64(len(b.TxEntries)))...)
	for _, e := range b.TxEntries {
		buf = append(buf, e.Transaction.Serialize()...)
		if b.Version == V2 {
			if e.HasParents {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
		if e.HasBump {
			buf = append(buf, 1)
			buf = append(buf, txbin.VarInt(uint64(e.BUMPIndex))...)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// FromBinary parses a V1 or V2 BEEF bundle (spec.md §4.7), re-linking
// each unmined transaction's inputs to the ancestor entries already
// present in the bundle and rejecting dangling references.
func FromBinary(data []byte) (*Bundle, error) {
	r := txbin.NewReader(data)
	magic, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("beef: version tag: %w", err)
	}
	version := Version(magic)
	if version != V1 && version != V2 {
		return nil, &ErrUnknownVersion{Got: magic}
	}
	b := &Bundle{Version: version}

	nBumps, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("beef: bump count: %w", err)
	}
	for i := uint64(0); i < nBumps; i++ {
		path, n, err := parseBumpFrom(r)
		if err != nil {
			return nil, fmt.Errorf("beef: bump %d: %w", i, err)
		}
		_ = n
		b.BUMPs = append(b.BUMPs, path)
	}

	nTxs, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("beef: tx count: %w", err)
	}
	for i := uint64(0); i < nTxs; i++ {
		t, err := tx.ParseFrom(r)
		if err != nil {
			return nil, fmt.Errorf("beef: tx entry %d: %w", i, err)
		}
		entry := &TxEntry{Transaction: t}
		if version == V2 {
			hasParents, err := r.U8()
			if err != nil {
				return nil, fmt.Errorf("beef: tx entry %d has-parents flag: %w", i, err)
			}
			entry.HasParents = hasParents != 0
		}
		hasBump, err := r.U8()
		if err != nil {
			return nil, fmt.Errorf("beef: tx entry %d has-bump flag: %w", i, err)
		}
		if hasBump != 0 {
			idx, err := r.VarInt()
			if err != nil {
				return nil, fmt.Errorf("beef: tx entry %d bump index: %w", i, err)
			}
			if int(idx) >= len(b.BUMPs) {
				return nil, fmt.Errorf("beef: tx entry %d bump index %d out of range", i, idx)
			}
			entry.HasBump = true
			entry.BUMPIndex = int(idx)
		}
		b.TxEntries = append(b.TxEntries, entry)
	}

	if err := relink(b); err != nil {
		return nil, err
	}
	return b, nil
}

// relink resolves each input's SourceTransaction to an earlier entry in
// the bundle, sharing the pointer rather than copying (spec.md §3:
// "an Input shares, does not own, its source_transaction").
func relink(b *Bundle) error {
	byTXID := make(map[hash.Hash256]*tx.Transaction, len(b.TxEntries))
	for _, e := range b.TxEntries {
		byTXID[e.TXID()] = e.Transaction
	}
	for _, e := range b.TxEntries {
		if e.HasBump || e.HasParents {
			continue
		}
		for _, in := range e.Transaction.Inputs {
			parent, ok := byTXID[in.SourceTXID]
			if !ok {
				return &ErrDanglingReference{TXID: in.SourceTXID}
			}
			in.SourceTransaction = parent
		}
	}
	return nil
}

// parseBumpFrom parses one BRC-74 Merkle path out of r, returning the
// number of bytes consumed (tracked via r.Pos() deltas by the caller if
// needed).
func parseBumpFrom(r *txbin.Reader) (*merklepath.Path, int, error) {
	start := r.Pos()
	height, err := r.VarInt()
	if err != nil {
		return nil, 0, fmt.Errorf("height: %w", err)
	}
	nLevels, err := r.U8()
	if err != nil {
		return nil, 0, fmt.Errorf("level count: %w", err)
	}
	p := &merklepath.Path{BlockHeight: uint32(height), Levels: make([][]merklepath.Leaf, nLevels)}
	for l := range p.Levels {
		nLeaves, err := r.VarInt()
		if err != nil {
			return nil, 0, fmt.Errorf("level %d leaf count: %w", l, err)
		}
		p.Levels[l] = make([]merklepath.Leaf, nLeaves)
		for i := range p.Levels[l] {
			offset, err := r.VarInt()
			if err != nil {
				return nil, 0, fmt.Errorf("level %d leaf %d offset: %w", l, i, err)
			}
			flag, err := r.U8()
			if err != nil {
				return nil, 0, fmt.Errorf("level %d leaf %d flag: %w", l, i, err)
			}
			leaf := merklepath.Leaf{Offset: offset, Duplicate: flag&0x01 != 0, TXID: flag&0x02 != 0}
			if !leaf.Duplicate {
				h, err := r.Hash256()
				if err != nil {
					return nil, 0, fmt.Errorf("level %d leaf %d hash: %w", l, i, err)
				}
				leaf.Hash = hash.Hash256(h)
			}
			p.Levels[l][i] = leaf
		}
	}
	return p, r.Pos() - start, nil
}

// atomicPrefix is the 4-byte Atomic-BEEF marker (spec.md §4.7).
var atomicPrefix = [4]byte{0x01, 0x01, 0x01, 0x01}

// ErrSubjectMissing is returned when an Atomic-BEEF's pinned subject TXID
// doesn't appear in its embedded bundle.
type ErrSubjectMissing struct{ TXID hash.Hash256 }

func (e *ErrSubjectMissing) Error() string {
	return fmt.Sprintf("beef: subject %s missing from embedded bundle", e.TXID)
}

// ToAtomic wraps bundle as Atomic-BEEF, pinning subject.
func ToAtomic(bundle *Bundle, subject hash.Hash256) []byte {
	var buf []byte
	buf = append(buf, atomicPrefix[:]...)
	buf = append(buf, subject[:]...) // natural byte order, per spec.md §3
	buf = append(buf, bundle.ToBinary()...)
	return buf
}

// FromAtomic parses Atomic-BEEF bytes, returning the subject entry's
// transaction and the full embedded bundle.
func FromAtomic(data []byte) (*tx.Transaction, *Bundle, error) {
	if len(data) < 36 || data[0] != 0x01 || data[1] != 0x01 || data[2] != 0x01 || data[3] != 0x01 {
		return nil, nil, fmt.Errorf("beef: not atomic-beef framing")
	}
	var subject hash.Hash256
	copy(subject[:], data[4:36])
	bundle, err := FromBinary(data[36:])
	if err != nil {
		return nil, nil, fmt.Errorf("beef: embedded bundle: %w", err)
	}
	entry := bundle.ByTXID(subject)
	if entry == nil {
		return nil, nil, &ErrSubjectMissing{TXID: subject}
	}
	return entry.Transaction, bundle, nil
}
