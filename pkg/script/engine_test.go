package script_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/script"
)

func evalASM(t *testing.T, unlockingASM, lockingASM string, limits script.Limits, checker script.SignatureChecker) (bool, error) {
	t.Helper()
	unlocking, err := script.FromASM(unlockingASM)
	require.NoError(t, err)
	locking, err := script.FromASM(lockingASM)
	require.NoError(t, err)
	e := script.NewEngine(limits, checker)
	return e.Evaluate(unlocking, locking)
}

func TestEngineArithmeticAndEquality(t *testing.T) {
	ok, err := evalASM(t, "", "OP_2 OP_3 OP_ADD OP_5 OP_NUMEQUAL", script.Limits{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineDupHash160EqualVerify(t *testing.T) {
	ok, err := evalASM(t, "", "00010203 OP_DUP OP_HASH160 OP_SWAP OP_HASH160 OP_EQUALVERIFY OP_1", script.Limits{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineIfElseEndif(t *testing.T) {
	ok, err := evalASM(t, "", "OP_0 OP_IF OP_0 OP_ELSE OP_1 OP_ENDIF", script.Limits{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalASM(t, "", "OP_1 OP_IF OP_0 OP_ELSE OP_1 OP_ENDIF", script.Limits{}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineUnbalancedControlStackFails(t *testing.T) {
	_, err := evalASM(t, "", "OP_1 OP_IF OP_1", script.Limits{}, nil)
	require.Error(t, err)
	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrControlStackMismatch, serr.Kind)
}

func TestEngineStackUnderflow(t *testing.T) {
	_, err := evalASM(t, "", "OP_ADD", script.Limits{}, nil)
	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrStackUnderflow, serr.Kind)
}

func TestEngineDisabledOpcode(t *testing.T) {
	_, err := evalASM(t, "", "OP_2 OP_2 OP_MUL", script.Limits{}, nil)
	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrDisabledOpcode, serr.Kind)
}

func TestEngineUnlockingMustBePushOnly(t *testing.T) {
	_, err := evalASM(t, "OP_DUP", "OP_1", script.Limits{}, nil)
	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrPushOnlyRequired, serr.Kind)
}

func TestEngineCLTVAcceptsFiveByteOperand(t *testing.T) {
	// 0xFFFFFFFF encodes to 5 bytes (FF FF FF FF 00: a trailing zero byte
	// carries the sign bit since the 4th byte's high bit is already set).
	// CLTV/CSV must accept this under the relaxed 5-byte ceiling even
	// though it exceeds the ordinary 4-byte arithmetic limit.
	ok, err := evalASM(t, "", "ffffffff00 OP_CHECKLOCKTIMEVERIFY OP_1", script.Limits{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

// spySignatureChecker records the subScript it was handed so tests can
// assert the interpreter trims it at OP_CODESEPARATOR rather than the
// checker seeing the whole locking script.
type spySignatureChecker struct {
	gotSubScript *script.Script
}

func (c *spySignatureChecker) CheckSignature(_, _ []byte, subScript *script.Script) (bool, error) {
	c.gotSubScript = subScript
	return true, nil
}

func TestEngineOpCodeSeparatorTrimsSubScript(t *testing.T) {
	locking := script.New().
		PushOpcode(script.OP_DUP).
		PushOpcode(script.OP_CODESEPARATOR).
		PushOpcode(script.OP_CHECKSIG)
	unlocking := script.New().PushData([]byte{0x30, 0x01, 0x00, 0x01}).PushData([]byte{0x02})

	spy := &spySignatureChecker{}
	e := script.NewEngine(script.Limits{}, spy)
	_, err := e.Evaluate(unlocking, locking)
	require.NoError(t, err)
	require.NotNil(t, spy.gotSubScript)

	want := script.New().PushOpcode(script.OP_CHECKSIG)
	assert.Equal(t, want.ToHex(), spy.gotSubScript.ToHex(),
		"subscript passed to the checker must start after the last OP_CODESEPARATOR")
}

func TestEngineMemoryGuardRejectsBeforeAllocating(t *testing.T) {
	// A 20-byte push duplicated repeatedly eventually exceeds a tight
	// memory ceiling: the interpreter must reject the offending OP_DUP
	// rather than let the stack grow past the configured limit.
	locking := script.New().PushData(make([]byte, 20))
	for i := 0; i < 10; i++ {
		locking.PushOpcode(script.OP_DUP)
	}
	unlocking := script.New()
	limits := script.Limits{MaxScriptMemoryBytes: 100}
	e := script.NewEngine(limits, nil)
	_, err := e.Evaluate(unlocking, locking)
	require.Error(t, err)
	var serr *script.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, script.ErrStackMemoryExceeded, serr.Kind)
}
