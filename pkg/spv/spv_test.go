package spv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcoinecho/txkit/pkg/feemodel"
	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/merklepath"
	"github.com/bitcoinecho/txkit/pkg/oracle"
	"github.com/bitcoinecho/txkit/pkg/script"
	"github.com/bitcoinecho/txkit/pkg/spv"
	"github.com/bitcoinecho/txkit/pkg/tx"
)

func make32(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}

func buildAnchoredSpend(t *testing.T, satoshis uint64) (*tx.Transaction, *oracle.FileHeaderChainTracker) {
	t.Helper()
	crypto := oracle.NewStdProvider()
	require.NoError(t, crypto.AddKey("k", make32(3)))
	pubKey, err := crypto.PublicKey("k")
	require.NoError(t, err)
	pkh := hash.Hash160Of(pubKey)

	source := tx.New()
	source.AddInput(&tx.Input{SourceTXID: hash.Zero256, SourceOutputIndex: 0xffffffff, Sequence: 0xffffffff})
	source.AddOutput(&tx.Output{Satoshis: satoshis, LockingScript: script.P2PKHLockingScript(pkh)})

	path := &merklepath.Path{BlockHeight: 42, Levels: [][]merklepath.Leaf{{{Offset: 0, TXID: true}}}}
	root, err := path.ComputeRoot(source.TXID())
	require.NoError(t, err)
	source.MerklePath = path

	tracker := oracle.NewFileHeaderChainTracker()
	tracker.AddHeader(42, root)

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
	amounts, err := feemodel.Solve(feemodel.DefaultModel, satoshis, 0,
		[]int{script.P2PKHEstimator{}.EstimatedLength()}, nil, 1, changeScript.Len(), feemodel.Equal, nil)
	require.NoError(t, err)
	spend.AddOutput(&tx.Output{Satoshis: amounts[0], LockingScript: changeScript})
	require.NoError(t, spend.Sign(context.Background()))
	return spend, tracker
}

func TestVerifyScriptsOnlySucceeds(t *testing.T) {
	spend, tracker := buildAnchoredSpend(t, 4000)
	verifier := spv.New(tracker, spv.Options{Mode: spv.ScriptsOnly}, nil)
	err := verifier.Verify(context.Background(), spend)
	assert.NoError(t, err)
}

func TestVerifyFullModeChecksFee(t *testing.T) {
	spend, tracker := buildAnchoredSpend(t, 4000)
	verifier := spv.New(tracker, spv.Options{Mode: spv.Full, FeeModel: feemodel.DefaultModel}, nil)
	err := verifier.Verify(context.Background(), spend)
	assert.NoError(t, err)
}

func TestVerifyFullModeRejectsUnderpaidFee(t *testing.T) {
	spend, tracker := buildAnchoredSpend(t, 4000)
	spend.Outputs[0].Satoshis = 4000 // zero-fee, should fail Full mode
	// Re-sign over the changed output so the script check passes and only
	// the fee is short.
	spend.Inputs[0].UnlockingScript = nil
	require.NoError(t, spend.Sign(context.Background()))
	verifier := spv.New(tracker, spv.Options{Mode: spv.Full, FeeModel: feemodel.DefaultModel}, nil)
	err := verifier.Verify(context.Background(), spend)
	require.Error(t, err)
	var failure *spv.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, spv.InsufficientFee, failure.Kind)
}

func TestVerifyRejectsBadScript(t *testing.T) {
	spend, tracker := buildAnchoredSpend(t, 4000)
	spend.Inputs[0].UnlockingScript = script.New().PushData([]byte{0x00})
	verifier := spv.New(tracker, spv.Options{Mode: spv.ScriptsOnly}, nil)
	err := verifier.Verify(context.Background(), spend)
	require.Error(t, err)
	var failure *spv.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, spv.BadScript, failure.Kind)
}

func TestVerifyRejectsBadMerkleRoot(t *testing.T) {
	spend, tracker := buildAnchoredSpend(t, 4000)
	tracker.AddHeader(42, hash.Hash256{0xff})
	verifier := spv.New(tracker, spv.Options{Mode: spv.ScriptsOnly}, nil)
	err := verifier.Verify(context.Background(), spend)
	require.Error(t, err)
	var failure *spv.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, spv.BadMerkleRoot, failure.Kind)
}
