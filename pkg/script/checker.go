package script

// SignatureChecker is the capability the interpreter calls into for
// OP_CHECKSIG/OP_CHECKMULTISIG (spec.md §4.3 step 3-4: "Compute the
// SIGHASH preimage... Ask the external crypto oracle to verify"). A
// concrete implementation closes over the transaction-wide
// PreimageContext, the input being verified, and an
// github.com/bitcoinecho/txkit/pkg/oracle.CryptoProvider; pkg/spv supplies
// the one used when verifying real transactions.
//
// This narrow, single-method interface is the small-capability idiom
// spec.md §9 calls for in place of an inheritance hierarchy.
type SignatureChecker interface {
	// CheckSignature verifies sigWithScope (a DER-or-similar signature
	// with the one-byte SIGHASH scope appended) against pubKey, where
	// subScript is the exact bytes that should go into the preimage's
	// subscript field (already codeseparator-trimmed and signature-
	// stripped by the interpreter).
	CheckSignature(sigWithScope []byte, pubKey []byte, subScript *Script) (bool, error)
}

// NullSignatureChecker rejects every signature. It is useful for
// contexts that only need to run push-only/script-shape checks without a
// transaction (e.g. template estimators), and as a safe zero value.
type NullSignatureChecker struct{}

func (NullSignatureChecker) CheckSignature([]byte, []byte, *Script) (bool, error) {
	return false, nil
}
