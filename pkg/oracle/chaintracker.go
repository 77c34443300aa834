package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

// ChainTracker answers "is this merkle root valid at this height", the
// only chain-state question SPV verification needs. Production chain
// oracles are external collaborators behind this interface; the
// implementations in this package are FileHeaderChainTracker (an
// in-memory test double) and CachedChainTracker (a cache over another
// tracker).
type ChainTracker interface {
	// IsValidRootForHeight reports whether root is the known merkle root
	// of the block at height.
	IsValidRootForHeight(ctx context.Context, root hash.Hash256, height uint32) (bool, error)

	// CurrentHeight returns the tracker's best-known chain height.
	CurrentHeight(ctx context.Context) (uint32, error)
}

// FileHeaderChainTracker is a trust-the-caller test double: it holds an
// explicit height->root map supplied by the caller (e.g. loaded from a
// list of block headers in a test fixture). It performs no proof-of-work
// or reorg handling — adapted from the teacher's BlockChain type
// (pkg/bitcoin/blockchain.go), stripped to the single fact SPV
// verification actually needs.
type FileHeaderChainTracker struct {
	mu      sync.RWMutex
	roots   map[uint32]hash.Hash256
	highest uint32
}

// NewFileHeaderChainTracker returns an empty tracker; use AddHeader to
// populate it.
func NewFileHeaderChainTracker() *FileHeaderChainTracker {
	return &FileHeaderChainTracker{roots: make(map[uint32]hash.Hash256)}
}

// AddHeader records the merkle root for height. Callers are trusted to
// supply headers they've already validated out of band.
func (t *FileHeaderChainTracker) AddHeader(height uint32, merkleRoot hash.Hash256) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots[height] = merkleRoot
	if height > t.highest {
		t.highest = height
	}
}

// IsValidRootForHeight implements ChainTracker.
func (t *FileHeaderChainTracker) IsValidRootForHeight(_ context.Context, root hash.Hash256, height uint32) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	known, ok := t.roots[height]
	if !ok {
		return false, fmt.Errorf("oracle: no header recorded at height %d", height)
	}
	return known == root, nil
}

// CurrentHeight implements ChainTracker.
func (t *FileHeaderChainTracker) CurrentHeight(_ context.Context) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.highest, nil
}
