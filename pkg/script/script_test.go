package script_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/script"
)

func TestPushDataCanonicalOpcodeSelection(t *testing.T) {
	cases := []struct {
		name string
		n    int
		op   script.Opcode
	}{
		{"direct", 10, script.Opcode(10)},
		{"pushdata1", 0x100 - 1, script.OP_PUSHDATA1},
		{"pushdata2", 0x10000 - 1, script.OP_PUSHDATA2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := script.New().PushData(make([]byte, c.n))
			require.Len(t, s.Chunks, 1)
			if c.n > 75 {
				assert.Equal(t, c.op, s.Chunks[0].Op)
			}
		})
	}
}

func TestPushNumberMinimalEncoding(t *testing.T) {
	s := script.New().PushNumber(0).PushNumber(-1).PushNumber(1).PushNumber(16).PushNumber(17)
	require.Len(t, s.Chunks, 5)
	assert.Equal(t, script.OP_0, s.Chunks[0].Op)
	assert.Equal(t, script.OP_1NEGATE, s.Chunks[1].Op)
	assert.Equal(t, script.OP_1, s.Chunks[2].Op)
	assert.Equal(t, script.OP_16, s.Chunks[3].Op)
	assert.NotNil(t, s.Chunks[4].Data, "17 falls outside the small-int range and is a data push")
}

func TestBinaryRoundTripCanonicalizesPushLength(t *testing.T) {
	s := script.New().PushData([]byte{1, 2, 3}).PushOpcode(script.OP_CHECKSIG)
	bin := s.ToBinary()
	parsed, err := script.FromBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, s.ToHex(), parsed.ToHex())
}

func TestASMRoundTrip(t *testing.T) {
	s := script.New().PushData([]byte{0xde, 0xad}).PushOpcode(script.OP_DUP).PushOpcode(script.OP_EQUALVERIFY)
	asm := s.ToASM()
	parsed, err := script.FromASM(asm)
	require.NoError(t, err)
	assert.Equal(t, s.ToHex(), parsed.ToHex())
}

func TestIsPushOnly(t *testing.T) {
	pushOnly := script.New().PushData([]byte{1}).PushNumber(5)
	assert.True(t, pushOnly.IsPushOnly())

	notPushOnly := script.New().PushData([]byte{1}).PushOpcode(script.OP_CHECKSIG)
	assert.False(t, notPushOnly.IsPushOnly())
}

func TestCloneIsIndependent(t *testing.T) {
	s := script.New().PushData([]byte{1, 2, 3})
	clone := s.Clone()
	clone.Chunks[0].Data[0] = 0xff
	assert.Equal(t, byte(1), s.Chunks[0].Data[0], "cloning must deep-copy push data")
}

func TestFromBinaryRejectsTruncatedPush(t *testing.T) {
	_, err := script.FromBinary([]byte{0x4c, 0x05, 0x01, 0x02})
	assert.Error(t, err)
}
