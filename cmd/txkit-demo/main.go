// Command txkit-demo builds, signs, and SPV-verifies a single P2PKH
// spend end to end, wiring together every package in this module. It
// exists as a worked example, not a service: a real caller embeds the
// library instead of shelling out to this binary.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/bitcoinecho/txkit/pkg/feemodel"
	"github.com/bitcoinecho/txkit/pkg/hash"
	"github.com/bitcoinecho/txkit/pkg/merklepath"
	"github.com/bitcoinecho/txkit/pkg/oracle"
	"github.com/bitcoinecho/txkit/pkg/script"
	"github.com/bitcoinecho/txkit/pkg/spv"
	"github.com/bitcoinecho/txkit/pkg/tx"
)

const (
	name    = "txkit-demo"
	version = "0.1.0-dev"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("%s %s\n", name, version)
		return
	}

	if err := run(logger); err != nil {
		logger.Fatal("demo failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	crypto := oracle.NewStdProvider()
	if err := crypto.AddKey("spender", make32(1)); err != nil {
		return fmt.Errorf("provisioning key: %w", err)
	}
	pubKey, err := crypto.PublicKey("spender")
	if err != nil {
		return fmt.Errorf("deriving public key: %w", err)
	}
	pubKeyHash := hash.Hash160Of(pubKey)
	logger.Info("provisioned spending key", zap.String("pubKeyHash", pubKeyHash.String()))

	source := tx.New()
	source.AddInput(&tx.Input{SourceTXID: hash.Zero256, SourceOutputIndex: 0xffffffff, Sequence: 0xffffffff})
	source.AddOutput(&tx.Output{Satoshis: 5000, LockingScript: script.P2PKHLockingScript(pubKeyHash)})
	logger.Info("built funding transaction", zap.String("txid", source.TXID().String()))

	const fundingHeight = 100
	fundingPath := &merklepath.Path{
		BlockHeight: fundingHeight,
		Levels:      [][]merklepath.Leaf{{{Offset: 0, TXID: true}}},
	}
	fundingRoot, err := fundingPath.ComputeRoot(source.TXID())
	if err != nil {
		return fmt.Errorf("computing funding merkle root: %w", err)
	}
	source.MerklePath = fundingPath

	tracker := oracle.NewFileHeaderChainTracker()
	tracker.AddHeader(fundingHeight, fundingRoot)

	spend := tx.New()
	spend.AddInput(&tx.Input{
		SourceTransaction: source,
		SourceOutputIndex: 0,
		Sequence:          0xffffffff,
		UnlockingScriptTemplate: script.P2PKHSigner{
			PubKey: pubKey,
			Sign:   func(digest hash.Hash256) ([]byte, error) { return crypto.Sign("spender", digest) },
		},
	})

	changeScript := script.P2PKHLockingScript(pubKeyHash)
	amounts, err := feemodel.Solve(
		feemodel.DefaultModel,
		5000,
		0,
		[]int{script.P2PKHEstimator{}.EstimatedLength()},
		nil,
		1, changeScript.Len(),
		feemodel.Equal, nil,
	)
	if err != nil {
		return fmt.Errorf("solving fee/change: %w", err)
	}
	spend.AddOutput(&tx.Output{Satoshis: amounts[0], LockingScript: changeScript, Change: true})
	logger.Info("solved change output", zap.Uint64("changeSatoshis", amounts[0]))

	if err := spend.Sign(context.Background()); err != nil {
		return fmt.Errorf("signing: %w", err)
	}
	logger.Info("signed spend", zap.String("txid", spend.TXID().String()))

	verifier := spv.New(tracker, spv.Options{Mode: spv.ScriptsOnly}, logger)
	if err := verifier.Verify(context.Background(), spend); err != nil {
		return fmt.Errorf("spv verification: %w", err)
	}
	logger.Info("spend verified")
	return nil
}

// make32 returns a deterministic 32-byte scalar for demo purposes only;
// real callers source private key material from a CryptoProvider backed
// by actual key storage.
func make32(seed byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	return b
}
