package script_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/script"
)

func TestValidateScopeRequiresForkID(t *testing.T) {
	err := script.ValidateScope(script.SighashAll)
	assert.Error(t, err, "missing FORKID bit must be rejected")
}

func TestValidateScopeRejectsUnrecognizedBits(t *testing.T) {
	err := script.ValidateScope(script.SighashAll | script.SighashForkID | 0x20)
	assert.Error(t, err)
}

func TestValidateScopeRejectsInvalidBaseType(t *testing.T) {
	err := script.ValidateScope(script.SighashForkID) // base bits all zero
	assert.Error(t, err)
}

func TestValidateScopeAcceptsAllKnownCombinations(t *testing.T) {
	bases := []byte{script.SighashAll, script.SighashNone, script.SighashSingle}
	for _, base := range bases {
		assert.NoError(t, script.ValidateScope(base|script.SighashForkID))
		assert.NoError(t, script.ValidateScope(base|script.SighashForkID|script.SighashAnyoneCanPay))
	}
}

func sampleCtx() script.PreimageContext {
	return script.PreimageContext{
		Version: 1,
		Inputs: []script.PreimageInput{
			{PrevTXID: hash.Zero256, PrevVout: 0, Sequence: 0xffffffff},
		},
		Outputs: []script.PreimageOutput{
			{Satoshis: 1000, LockingScript: []byte{0x51}},
		},
		LockTime: 0,
	}
}

func TestComputeSighashDeterministic(t *testing.T) {
	ctx := sampleCtx()
	scope := script.SighashAll | script.SighashForkID
	d1, err := script.ComputeSighash(ctx, 0, []byte{0x51}, 1000, scope)
	require.NoError(t, err)
	d2, err := script.ComputeSighash(ctx, 0, []byte{0x51}, 1000, scope)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestComputeSighashChangesWithInputValue(t *testing.T) {
	ctx := sampleCtx()
	scope := script.SighashAll | script.SighashForkID
	d1, err := script.ComputeSighash(ctx, 0, []byte{0x51}, 1000, scope)
	require.NoError(t, err)
	d2, err := script.ComputeSighash(ctx, 0, []byte{0x51}, 999, scope)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2, "the signed value is covered by the preimage (BIP-143/FORKID requirement)")
}

func TestComputeSighashSingleOutOfRangeStaysZeroHashOutputs(t *testing.T) {
	ctx := sampleCtx()
	ctx.Inputs = append(ctx.Inputs, script.PreimageInput{PrevTXID: hash.Zero256, PrevVout: 1, Sequence: 0xffffffff})
	scope := script.SighashSingle | script.SighashForkID
	// inputIndex 1 has no corresponding output, hashOutputs must stay zero
	// rather than panicking or indexing out of range.
	_, err := script.ComputeSighash(ctx, 1, []byte{0x51}, 1000, scope)
	require.NoError(t, err)
}

func TestComputeSighashRejectsInvalidScope(t *testing.T) {
	ctx := sampleCtx()
	_, err := script.ComputeSighash(ctx, 0, []byte{0x51}, 1000, 0xff)
	assert.Error(t, err)
}

func TestComputeSighashRejectsOutOfRangeInputIndex(t *testing.T) {
	ctx := sampleCtx()
	_, err := script.ComputeSighash(ctx, 5, []byte{0x51}, 1000, script.SighashAll|script.SighashForkID)
	assert.Error(t, err)
}
