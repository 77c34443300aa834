package tx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/feemodel"
	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/oracle"
	"github.com/bitcoinecho/txkit/pkg/script"
	"github.com/bitcoinecho/txkit/pkg/tx"
)

func fundedSource(t *testing.T, crypto *oracle.StdProvider, satoshis uint64) (*tx.Transaction, []byte, hash.Hash160) {
	t.Helper()
	require.NoError(t, crypto.AddKey("k", make32(7)))
	pubKey, err := crypto.PublicKey("k")
	require.NoError(t, err)
	pkh := hash.Hash160Of(pubKey)

	source := tx.New()
	source.AddInput(&tx.Input{SourceTXID: hash.Zero256, SourceOutputIndex: 0xffffffff, Sequence: 0xffffffff})
	source.AddOutput(&tx.Output{Satoshis: satoshis, LockingScript: script.P2PKHLockingScript(pkh)})
	return source, pubKey, pkh
}

func make32(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}

func TestP2PKHSignAndVerify(t *testing.T) {
	crypto := oracle.NewStdProvider()
	source, pubKey, pkh := fundedSource(t, crypto, 4000)

	spend := tx.New()
	spend.AddInput(&tx.Input{
		SourceTransaction: source,
		SourceOutputIndex: 0,
		Sequence:          0xffffffff,
		UnlockingScriptTemplate: script.P2PKHSigner{
			PubKey: pubKey,
			Sign:   func(d hash.Hash256) ([]byte, error) { return crypto.Sign("k", d) },
		},
	})
	changeScript := script.P2PKHLockingScript(pkh)
	amounts, err := feemodel.Solve(feemodel.DefaultModel, 4000, 0,
		[]int{script.P2PKHEstimator{}.EstimatedLength()}, nil, 1, changeScript.Len(), feemodel.Equal, nil)
	require.NoError(t, err)
	spend.AddOutput(&tx.Output{Satoshis: amounts[0], LockingScript: changeScript, Change: true})

	require.NoError(t, spend.Sign(context.Background()))
	require.NotNil(t, spend.Inputs[0].UnlockingScript)
	assert.Len(t, spend.Inputs[0].UnlockingScript.Chunks, 2, "P2PKH unlocking script is exactly two push chunks")

	lockingScript, err := spend.Inputs[0].LockingScript()
	require.NoError(t, err)
	checker := &verifyingChecker{crypto: crypto, tx: spend, inputIndex: 0}
	engine := script.NewEngine(script.Limits{}, checker)
	ok, err := engine.Evaluate(spend.Inputs[0].UnlockingScript, lockingScript)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSerializeFromBinaryRoundTrip(t *testing.T) {
	crypto := oracle.NewStdProvider()
	source, _, _ := fundedSource(t, crypto, 1000)
	raw := source.Serialize()
	parsed, err := tx.FromBinary(raw)
	require.NoError(t, err)
	assert.Equal(t, source.TXID(), parsed.TXID())
}

func TestExtendedFormatRoundTrip(t *testing.T) {
	crypto := oracle.NewStdProvider()
	source, pubKey, pkh := fundedSource(t, crypto, 1000)

	spend := tx.New()
	spend.AddInput(&tx.Input{
		SourceTransaction: source,
		SourceOutputIndex: 0,
		Sequence:          0xffffffff,
		UnlockingScriptTemplate: script.P2PKHSigner{
			PubKey: pubKey,
			Sign:   func(d hash.Hash256) ([]byte, error) { return crypto.Sign("k", d) },
		},
	})
	spend.AddOutput(&tx.Output{Satoshis: 900, LockingScript: script.P2PKHLockingScript(pkh)})
	require.NoError(t, spend.Sign(context.Background()))

	ef, err := spend.SerializeEF()
	require.NoError(t, err)
	assert.True(t, tx.IsExtendedFormat(ef))

	parsed, err := tx.FromEF(ef)
	require.NoError(t, err)
	assert.Equal(t, spend.TXID(), parsed.TXID())
	gotValue, err := parsed.TotalInputSatoshis()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), gotValue)
}

func TestChangeSolverCustomFee(t *testing.T) {
	changeScript := script.New().PushOpcode(script.OP_1)
	amounts, err := feemodel.Solve(feemodel.Model{FixedSatoshis: 1033}, 4000, 0,
		[]int{script.P2PKHEstimator{}.EstimatedLength()}, nil, 1, changeScript.Len(), feemodel.Equal, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000-1033), amounts[0])
}

func TestSighashSingleAnyoneCanPayToleratesAppendedInputs(t *testing.T) {
	crypto := oracle.NewStdProvider()
	source, pubKey, pkh := fundedSource(t, crypto, 2000)
	source2, _, _ := fundedSource(t, crypto, 3000)

	spend := tx.New()
	scope := script.SighashSingle | script.SighashAnyoneCanPay | script.SighashForkID
	spend.AddInput(&tx.Input{
		SourceTransaction: source,
		SourceOutputIndex: 0,
		Sequence:          0xffffffff,
		UnlockingScriptTemplate: script.P2PKHSigner{
			PubKey: pubKey,
			Scope:  scope,
			Sign:   func(d hash.Hash256) ([]byte, error) { return crypto.Sign("k", d) },
		},
	})
	spend.AddOutput(&tx.Output{Satoshis: 1900, LockingScript: script.P2PKHLockingScript(pkh)})
	require.NoError(t, spend.Sign(context.Background()))

	digestBefore, err := spend.Sighash(0, scope)
	require.NoError(t, err)

	// Appending another input after signing input 0 must not change its
	// digest under SINGLE|ANYONECANPAY.
	spend.AddInput(&tx.Input{SourceTransaction: source2, SourceOutputIndex: 0, Sequence: 0xffffffff})
	digestAfter, err := spend.Sighash(0, scope)
	require.NoError(t, err)
	assert.Equal(t, digestBefore, digestAfter)

	lockingScript, err := spend.Inputs[0].LockingScript()
	require.NoError(t, err)
	checker := &verifyingChecker{crypto: crypto, tx: spend, inputIndex: 0}
	engine := script.NewEngine(script.Limits{}, checker)
	ok, err := engine.Evaluate(spend.Inputs[0].UnlockingScript, lockingScript)
	require.NoError(t, err)
	assert.True(t, ok, "signature for input 0 still validates after appending input 1")

	// But modifying output 0's value (the output at input 0's own index)
	// must invalidate the signature for SINGLE.
	spend.Outputs[0].Satoshis = 1
	digestMutated, err := spend.Sighash(0, scope)
	require.NoError(t, err)
	assert.NotEqual(t, digestBefore, digestMutated)
}

// verifyingChecker adapts a *tx.Transaction + CryptoProvider into a
// script.SignatureChecker for tests, mirroring pkg/spv's txSignatureChecker.
type verifyingChecker struct {
	crypto     oracle.CryptoProvider
	tx         *tx.Transaction
	inputIndex int
}

func (c *verifyingChecker) CheckSignature(sigWithScope, pubKey []byte, subScript *script.Script) (bool, error) {
	scope := sigWithScope[len(sigWithScope)-1]
	der := sigWithScope[:len(sigWithScope)-1]
	var subBin []byte
	if subScript != nil {
		subBin = subScript.ToBinary()
	}
	digest, err := c.tx.SighashWithSubScript(c.inputIndex, scope, subBin)
	if err != nil {
		return false, err
	}
	return c.crypto.Verify(pubKey, digest, der)
}
