package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/oracle"
)

func make32(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}

func TestSignVerifyRoundTrip(t *testing.T) {
	p := oracle.NewStdProvider()
	require.NoError(t, p.AddKey("k", make32(5)))
	pubKey, err := p.PublicKey("k")
	require.NoError(t, err)

	digest := hash.Sha256d([]byte("message"))
	sig, err := p.Sign("k", digest)
	require.NoError(t, err)

	ok, err := p.Verify(pubKey, digest, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsWrongDigest(t *testing.T) {
	p := oracle.NewStdProvider()
	require.NoError(t, p.AddKey("k", make32(5)))
	pubKey, err := p.PublicKey("k")
	require.NoError(t, err)

	sig, err := p.Sign("k", hash.Sha256d([]byte("message")))
	require.NoError(t, err)

	ok, err := p.Verify(pubKey, hash.Sha256d([]byte("different")), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformedSignatureIsNonFatal(t *testing.T) {
	p := oracle.NewStdProvider()
	require.NoError(t, p.AddKey("k", make32(5)))
	pubKey, err := p.PublicKey("k")
	require.NoError(t, err)

	ok, err := p.Verify(pubKey, hash.Sha256d([]byte("message")), []byte{0x01, 0x02})
	require.NoError(t, err, "a malformed signature is a verification failure, not an error")
	assert.False(t, ok)
}

func TestUnknownKeyErrors(t *testing.T) {
	p := oracle.NewStdProvider()
	_, err := p.Sign("missing", hash.Sha256d(nil))
	assert.Error(t, err)
	_, err = p.PublicKey("missing")
	assert.Error(t, err)
}

func TestAddKeyRejectsWrongLength(t *testing.T) {
	p := oracle.NewStdProvider()
	err := p.AddKey("k", []byte{0x01, 0x02})
	assert.Error(t, err)
}
