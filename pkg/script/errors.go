package script

import "fmt"

// ErrorKind tags the fatal failure modes of the interpreter (spec.md §4.3,
// §7). The tagged-struct idiom (Kind + free-form Reason) is grounded on
// the rubin-protocol pack repo's consensus/errors.go (ErrorCode + TxError),
// generalized here with an OpcodeIndex field so failures can always be
// traced back to the instruction that produced them (spec.md §7: "The
// script interpreter always surfaces the originating opcode index").
type ErrorKind string

const (
	ErrMalformed               ErrorKind = "Malformed"
	ErrStackUnderflow          ErrorKind = "StackUnderflow"
	ErrDisabledOpcode          ErrorKind = "DisabledOpcode"
	ErrInvalidSignatureEncoding ErrorKind = "InvalidSignatureEncoding"
	ErrStackMemoryExceeded     ErrorKind = "StackMemoryExceeded"
	ErrNumericOverflow         ErrorKind = "NumericOverflow"
	ErrControlStackMismatch    ErrorKind = "ControlStackMismatch"
	ErrVerifyFailed            ErrorKind = "VerifyFailed"
	ErrPushOnlyRequired        ErrorKind = "PushOnlyRequired"
	ErrInvalidSighashFlag      ErrorKind = "InvalidSighashFlag"
)

// Error is the tagged error returned by script execution.
type Error struct {
	Kind        ErrorKind
	OpcodeIndex int
	Reason      string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("script error at op %d: %s: %s", e.OpcodeIndex, e.Kind, e.Reason)
}

func newErr(kind ErrorKind, opIdx int, format string, args ...any) *Error {
	return &Error{Kind: kind, OpcodeIndex: opIdx, Reason: fmt.Sprintf(format, args...)}
}
