// Package merklepath implements the BRC-74 compound merkle path layout:
// one structure that can prove inclusion of many transactions from the
// same block, compute_root, verify against a chain tracker, and combine
// two compatible paths into one.
//
// Grounded on the bitcoinecho-node teacher's CalculateMerkleRoot
// (pkg/bitcoin/merkle.go), generalized from "build a root from a leaf
// list" into "verify one leaf's path against an externally supplied
// root" plus the BRC-74 multi-leaf-per-level binary layout.
package merklepath

import (
	"context"
	"fmt"
	"sort"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/oracle"
	"github.com/bitcoinecho/txkit/pkg/txbin"
)

// Leaf is one node at a given level of the path: a known hash, a flag
// that the root should be computed from the TXID being proven, or a
// Duplicate marker for a node that carries no hash of its own (the last
// node of an odd-sized level, which the tree pairs with itself).
// ComputeRoot treats a Duplicate sibling and a missing sibling alike.
type Leaf struct {
	Offset    uint64
	Hash      hash.Hash256
	TXID      bool // true: this offset is the subject transaction itself
	Duplicate bool // true: this leaf has no real hash; it mirrors its sibling
}

// Path is a BRC-74 compound merkle path: one []Leaf per level, level 0
// being the transaction layer.
type Path struct {
	BlockHeight uint32
	Levels      [][]Leaf
}

// leafAt returns the leaf at (level, offset), or nil if absent.
func (p *Path) leafAt(level int, offset uint64) *Leaf {
	for i := range p.Levels[level] {
		if p.Levels[level][i].Offset == offset {
			return &p.Levels[level][i]
		}
	}
	return nil
}

// ComputeRoot reconstructs the merkle root implied by this path for the
// transaction txid at its recorded offset (spec.md §4.7). The offset is
// taken from the level-0 TXID leaf whose hash equals txid; when no TXID
// leaf carries that hash, the first TXID leaf is used.
func (p *Path) ComputeRoot(txid hash.Hash256) (hash.Hash256, error) {
	if len(p.Levels) == 0 {
		return hash.Zero256, fmt.Errorf("merklepath: empty path")
	}
	var txOffset uint64
	found := false
	for _, leaf := range p.Levels[0] {
		if !leaf.TXID {
			continue
		}
		if leaf.Hash == txid {
			txOffset = leaf.Offset
			found = true
			break
		}
		if !found {
			txOffset = leaf.Offset
			found = true
		}
	}
	if !found {
		return hash.Zero256, fmt.Errorf("merklepath: no TXID leaf at level 0")
	}

	current := txid
	offset := txOffset
	for level := 0; level < len(p.Levels); level++ {
		siblingOffset := offset ^ 1
		sibling := p.leafAt(level, siblingOffset)
		var siblingHash hash.Hash256
		if sibling == nil || sibling.Duplicate {
			// No sibling hash recorded: the tree duplicated `current` at
			// build time because this level had an odd node count.
			siblingHash = current
		} else {
			siblingHash = sibling.Hash
		}

		var combined []byte
		if offset%2 == 0 {
			combined = append(append([]byte(nil), current[:]...), siblingHash[:]...)
		} else {
			combined = append(append([]byte(nil), siblingHash[:]...), current[:]...)
		}
		current = hash.Sha256d(combined)
		offset /= 2
	}
	return current, nil
}

// Verify reconstructs the root and asks tracker whether it's valid at
// p.BlockHeight (spec.md §4.7, §4.10).
func (p *Path) Verify(ctx context.Context, txid hash.Hash256, tracker oracle.ChainTracker) (bool, error) {
	root, err := p.ComputeRoot(txid)
	if err != nil {
		return false, err
	}
	return tracker.IsValidRootForHeight(ctx, root, p.BlockHeight)
}

// Combine merges two paths from the same block into one compound path
// covering every transaction either one proves, failing if they disagree
// on any hash they both claim for the same (level, offset) (spec.md §4.7:
// "associativity" and "conflict detection").
func Combine(a, b *Path) (*Path, error) {
	if a.BlockHeight != b.BlockHeight {
		return nil, fmt.Errorf("merklepath: cannot combine paths from different heights (%d vs %d)", a.BlockHeight, b.BlockHeight)
	}
	levels := len(a.Levels)
	if len(b.Levels) > levels {
		levels = len(b.Levels)
	}
	out := &Path{BlockHeight: a.BlockHeight, Levels: make([][]Leaf, levels)}
	seen := make([]map[uint64]Leaf, levels)
	for i := range seen {
		seen[i] = make(map[uint64]Leaf)
	}
	for _, src := range []*Path{a, b} {
		for level, leaves := range src.Levels {
			for _, leaf := range leaves {
				existing, ok := seen[level][leaf.Offset]
				if ok {
					if existing.Hash != leaf.Hash || existing.TXID != leaf.TXID {
						return nil, fmt.Errorf("merklepath: conflicting leaves at level %d offset %d", level, leaf.Offset)
					}
					continue
				}
				seen[level][leaf.Offset] = leaf
			}
		}
	}
	for level := 0; level < levels; level++ {
		for _, leaf := range seen[level] {
			out.Levels[level] = append(out.Levels[level], leaf)
		}
		sort.Slice(out.Levels[level], func(i, j int) bool {
			return out.Levels[level][i].Offset < out.Levels[level][j].Offset
		})
	}
	return out, nil
}

// ToBinary serializes the path in BRC-74 binary form: height varint,
// level count, then per level a leaf count and (offset varint, flag byte,
// hash) triples.
func (p *Path) ToBinary() []byte {
	var buf []byte
	buf = append(buf, txbin.VarInt(uint64(p.BlockHeight))...)
	buf = append(buf, byte(len(p.Levels)))
	for _, level := range p.Levels {
		buf = append(buf, txbin.VarInt(uint64(len(level)))...)
		for _, leaf := range level {
			buf = append(buf, txbin.VarInt(leaf.Offset)...)
			var flag byte
			if leaf.Duplicate {
				flag |= 0x01
			}
			if leaf.TXID {
				flag |= 0x02
			}
			buf = append(buf, flag)
			if !leaf.Duplicate {
				buf = append(buf, leaf.Hash[:]...)
			}
		}
	}
	return buf
}

// FromBinary parses the BRC-74 binary form produced by ToBinary.
func FromBinary(data []byte) (*Path, error) {
	r := txbin.NewReader(data)
	heightU64, err := r.VarInt()
	if err != nil {
		return nil, fmt.Errorf("merklepath: height: %w", err)
	}
	p := &Path{BlockHeight: uint32(heightU64)}
	nLevels, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("merklepath: level count: %w", err)
	}
	p.Levels = make([][]Leaf, nLevels)
	for l := range p.Levels {
		nLeaves, err := r.VarInt()
		if err != nil {
			return nil, fmt.Errorf("merklepath: level %d leaf count: %w", l, err)
		}
		p.Levels[l] = make([]Leaf, nLeaves)
		for i := range p.Levels[l] {
			offset, err := r.VarInt()
			if err != nil {
				return nil, fmt.Errorf("merklepath: level %d leaf %d offset: %w", l, i, err)
			}
			flag, err := r.U8()
			if err != nil {
				return nil, fmt.Errorf("merklepath: level %d leaf %d flag: %w", l, i, err)
			}
			leaf := Leaf{Offset: offset, Duplicate: flag&0x01 != 0, TXID: flag&0x02 != 0}
			if !leaf.Duplicate {
				h, err := r.Hash256()
				if err != nil {
					return nil, fmt.Errorf("merklepath: level %d leaf %d hash: %w", l, i, err)
				}
				leaf.Hash = hash.Hash256(h)
			}
			p.Levels[l][i] = leaf
		}
	}
	return p, nil
}
