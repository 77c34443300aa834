package hash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

func TestSha256d(t *testing.T) {
	got := hash.Sha256d([]byte("hello"))
	again := hash.Sha256d([]byte("hello"))
	assert.Equal(t, again, got, "hashing is deterministic")
	assert.NotEqual(t, hash.Zero256, got)

	single := hash.Sha256([]byte("hello"))
	assert.Equal(t, hash.Sha256(single[:]), [32]byte(got))
}

func TestHash160Of(t *testing.T) {
	h := hash.Hash160Of([]byte("hello"))
	assert.NotEqual(t, hash.Zero160, h)
	assert.Equal(t, h, hash.Hash160Of([]byte("hello")))
}

func TestReversedRoundTrip(t *testing.T) {
	var h hash.Hash256
	for i := range h {
		h[i] = byte(i)
	}
	assert.Equal(t, h, h.Reversed().Reversed())
}

func TestFromHexStringRoundTrip(t *testing.T) {
	var h hash.Hash256
	for i := range h {
		h[i] = byte(i * 3)
	}
	parsed, err := hash.FromHexString(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestFrom32BadLength(t *testing.T) {
	_, err := hash.From32([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSha1(t *testing.T) {
	d := hash.Sha1([]byte("abc"))
	assert.Len(t, d, 20)
}
