package oracle_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/oracle"
)

// countingTracker counts upstream calls so tests can assert the cache
// actually avoids re-asking after a hit.
type countingTracker struct {
	*oracle.FileHeaderChainTracker
	calls int
}

func (c *countingTracker) IsValidRootForHeight(ctx context.Context, root hash.Hash256, height uint32) (bool, error) {
	c.calls++
	return c.FileHeaderChainTracker.IsValidRootForHeight(ctx, root, height)
}

func TestCachedChainTrackerHitsUpstreamOnceThenCaches(t *testing.T) {
	upstream := &countingTracker{FileHeaderChainTracker: oracle.NewFileHeaderChainTracker()}
	upstream.AddHeader(100, rootAt(1))

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	cached, err := oracle.NewCachedChainTracker(dbPath, upstream, nil)
	require.NoError(t, err)
	defer cached.Close()

	ok, err := cached.IsValidRootForHeight(context.Background(), rootAt(1), 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, upstream.calls)

	ok, err = cached.IsValidRootForHeight(context.Background(), rootAt(1), 100)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, upstream.calls, "second lookup for the same height must be served from cache")
}

func TestCachedChainTrackerDelegatesCurrentHeight(t *testing.T) {
	upstream := oracle.NewFileHeaderChainTracker()
	upstream.AddHeader(500, rootAt(3))

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	cached, err := oracle.NewCachedChainTracker(dbPath, upstream, nil)
	require.NoError(t, err)
	defer cached.Close()

	height, err := cached.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(500), height)
}
