package oracle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/oracle"
)

func rootAt(b byte) hash.Hash256 {
	var h hash.Hash256
	h[0] = b
	return h
}

func TestFileHeaderChainTrackerKnownRoot(t *testing.T) {
	tr := oracle.NewFileHeaderChainTracker()
	tr.AddHeader(100, rootAt(1))
	tr.AddHeader(200, rootAt(2))

	ok, err := tr.IsValidRootForHeight(context.Background(), rootAt(1), 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.IsValidRootForHeight(context.Background(), rootAt(9), 100)
	require.NoError(t, err)
	assert.False(t, ok)

	height, err := tr.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(200), height)
}

func TestFileHeaderChainTrackerUnknownHeightErrors(t *testing.T) {
	tr := oracle.NewFileHeaderChainTracker()
	_, err := tr.IsValidRootForHeight(context.Background(), rootAt(1), 50)
	assert.Error(t, err)
}
