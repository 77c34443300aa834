package script

import (
	"bytes"

	"github.com/bitcoinecho/txkit/pkg/hash"
)

// Engine is the bounded stack machine described in spec.md §4.3.
// Grounded on the teacher's ScriptEngine (pkg/bitcoin/script.go in the
// bitcoinecho-node teacher), generalized with an altstack, a real
// control stack for IF/NOTIF/ELSE/ENDIF, OP_CHECKMULTISIG, a script-
// memory ceiling, and a pluggable SignatureChecker instead of the
// teacher's stubbed verifySignature.
type Engine struct {
	stack    [][]byte
	altStack [][]byte

	// control holds one entry per currently open IF/NOTIF, true meaning
	// that branch is active (spec.md §4.3's tri-state is realized here
	// as an "active" bool per nesting level plus the elseTaken flag,
	// equivalent to Bitcoin Core's vfExec).
	control []controlEntry

	memoryBytes int64
	opCount     int64

	limits  Limits
	checker SignatureChecker

	lastCodeSeparator int // chunk index, relative to the script currently executing
}

type controlEntry struct {
	active    bool
	elseTaken bool
}

// NewEngine constructs an interpreter with the given resource limits and
// signature checker.
func NewEngine(limits Limits, checker SignatureChecker) *Engine {
	if checker == nil {
		checker = NullSignatureChecker{}
	}
	return &Engine{limits: limits, checker: checker}
}

// Stack returns a defensive copy of the current data stack (for
// diagnostics/tests).
func (e *Engine) Stack() [][]byte {
	out := make([][]byte, len(e.stack))
	for i, v := range e.stack {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

// Evaluate executes unlocking then locking against a shared stack,
// enforcing push-only on the unlocking script (spec.md §4.3: "push-only
// enforcement applies to the unlocking script"). It returns whether the
// final top-of-stack is true; callers that need the final data stack
// (e.g. for clean-stack policy checks) read it with Stack().
func (e *Engine) Evaluate(unlocking, locking *Script) (bool, error) {
	if err := e.run(unlocking, true); err != nil {
		return false, err
	}
	if len(e.control) != 0 {
		return false, newErr(ErrControlStackMismatch, -1, "unlocking script left open control blocks")
	}
	if err := e.run(locking, false); err != nil {
		return false, err
	}
	if len(e.control) != 0 {
		return false, newErr(ErrControlStackMismatch, len(locking.Chunks), "unbalanced IF/ENDIF")
	}
	if len(e.stack) == 0 {
		return false, nil
	}
	return IsTrue(e.stack[len(e.stack)-1]), nil
}

func (e *Engine) run(s *Script, pushOnly bool) error {
	e.lastCodeSeparator = 0
	for i, c := range s.Chunks {
		executing := e.executing()

		if pushOnly && !c.IsPush() {
			return newErr(ErrPushOnlyRequired, i, "non-push opcode %s in unlocking script", opName(c.Op))
		}

		switch {
		case c.Data != nil:
			if executing {
				if err := e.push(i, c.Data); err != nil {
					return err
				}
			}
			continue
		case c.Op == OP_0:
			if executing {
				if err := e.push(i, []byte{}); err != nil {
					return err
				}
			}
			continue
		case c.Op >= OP_1 && c.Op <= OP_16:
			if executing {
				if err := e.push(i, EncodeScriptNum(int64(SmallIntValue(c.Op)))); err != nil {
					return err
				}
			}
			continue
		case c.Op == OP_1NEGATE:
			if executing {
				if err := e.push(i, EncodeScriptNum(-1)); err != nil {
					return err
				}
			}
			continue
		}

		// Control-flow opcodes always run (even when not executing),
		// so nesting stays balanced; every other opcode only runs when
		// inside an active branch.
		switch c.Op {
		case OP_IF, OP_NOTIF:
			var branch bool
			if executing {
				v, err := e.pop(i)
				if err != nil {
					return err
				}
				branch = IsTrue(v)
				if c.Op == OP_NOTIF {
					branch = !branch
				}
			}
			e.control = append(e.control, controlEntry{active: branch})
			continue
		case OP_ELSE:
			if len(e.control) == 0 {
				return newErr(ErrControlStackMismatch, i, "OP_ELSE without matching OP_IF")
			}
			top := &e.control[len(e.control)-1]
			if top.elseTaken {
				return newErr(ErrControlStackMismatch, i, "duplicate OP_ELSE")
			}
			top.active = !top.active
			top.elseTaken = true
			continue
		case OP_ENDIF:
			if len(e.control) == 0 {
				return newErr(ErrControlStackMismatch, i, "OP_ENDIF without matching OP_IF")
			}
			e.control = e.control[:len(e.control)-1]
			continue
		case OP_VERIF, OP_VERNOTIF:
			return newErr(ErrMalformed, i, "%s is not a valid opcode", opName(c.Op))
		}

		if !executing {
			continue
		}

		e.opCount++
		if e.limits.MaxOpCount > 0 && e.opCount > e.limits.MaxOpCount {
			return newErr(ErrNumericOverflow, i, "operation count exceeds limit %d", e.limits.MaxOpCount)
		}

		if disabledOpcodes[c.Op] {
			return newErr(ErrDisabledOpcode, i, "%s is disabled", opName(c.Op))
		}

		if err := e.executeOpcode(i, c.Op, s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executing() bool {
	for _, c := range e.control {
		if !c.active {
			return false
		}
	}
	return true
}

func opName(op Opcode) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "OP_UNKNOWN"
}

// push appends data to the stack, enforcing the memory ceiling before the
// push actually happens (spec.md §5: "enforce it before every push").
func (e *Engine) push(opIdx int, data []byte) error {
	if e.memoryBytes+int64(len(data)) > e.limits.memoryLimit() {
		return newErr(ErrStackMemoryExceeded, opIdx, "stack memory would exceed %d bytes", e.limits.memoryLimit())
	}
	e.stack = append(e.stack, data)
	e.memoryBytes += int64(len(data))
	return nil
}

func (e *Engine) pushAlt(opIdx int, data []byte) error {
	if e.memoryBytes+int64(len(data)) > e.limits.memoryLimit() {
		return newErr(ErrStackMemoryExceeded, opIdx, "stack memory would exceed %d bytes", e.limits.memoryLimit())
	}
	e.altStack = append(e.altStack, data)
	e.memoryBytes += int64(len(data))
	return nil
}

func (e *Engine) pop(opIdx int) ([]byte, error) {
	if len(e.stack) == 0 {
		return nil, newErr(ErrStackUnderflow, opIdx, "stack underflow")
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	e.memoryBytes -= int64(len(v))
	return v, nil
}

func (e *Engine) popAlt(opIdx int) ([]byte, error) {
	if len(e.altStack) == 0 {
		return nil, newErr(ErrStackUnderflow, opIdx, "altstack underflow")
	}
	v := e.altStack[len(e.altStack)-1]
	e.altStack = e.altStack[:len(e.altStack)-1]
	e.memoryBytes -= int64(len(v))
	return v, nil
}

func (e *Engine) need(opIdx, n int) error {
	if len(e.stack) < n {
		return newErr(ErrStackUnderflow, opIdx, "need %d items, have %d", n, len(e.stack))
	}
	return nil
}

func (e *Engine) top(n int) []byte { return e.stack[len(e.stack)-1-n] }

func (e *Engine) num(opIdx int, data []byte) (int64, error) {
	n, err := DecodeScriptNum(data, e.limits.numLen())
	if err != nil {
		return 0, newErr(ErrNumericOverflow, opIdx, "%s", err.Error())
	}
	return n, nil
}

func (e *Engine) executeOpcode(i int, op Opcode, s *Script) error {
	switch op {
	case OP_NOP, OP_NOP1, OP_NOP4, OP_NOP5, OP_NOP6, OP_NOP7, OP_NOP8, OP_NOP9, OP_NOP10, OP_RESERVED, OP_VER:
		return nil

	case OP_RETURN:
		return newErr(ErrVerifyFailed, i, "OP_RETURN")

	case OP_VERIFY:
		v, err := e.pop(i)
		if err != nil {
			return err
		}
		if !IsTrue(v) {
			return newErr(ErrVerifyFailed, i, "OP_VERIFY")
		}
		return nil

	case OP_TOALTSTACK:
		v, err := e.pop(i)
		if err != nil {
			return err
		}
		return e.pushAlt(i, v)
	case OP_FROMALTSTACK:
		v, err := e.popAlt(i)
		if err != nil {
			return err
		}
		return e.push(i, v)

	case OP_2DROP:
		if err := e.need(i, 2); err != nil {
			return err
		}
		if _, err := e.pop(i); err != nil {
			return err
		}
		_, err := e.pop(i)
		return err
	case OP_2DUP:
		if err := e.need(i, 2); err != nil {
			return err
		}
		a, b := e.top(1), e.top(0)
		if err := e.push(i, append([]byte(nil), a...)); err != nil {
			return err
		}
		return e.push(i, append([]byte(nil), b...))
	case OP_3DUP:
		if err := e.need(i, 3); err != nil {
			return err
		}
		a, b, c := e.top(2), e.top(1), e.top(0)
		for _, v := range [][]byte{a, b, c} {
			if err := e.push(i, append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	case OP_2OVER:
		if err := e.need(i, 4); err != nil {
			return err
		}
		a, b := e.top(3), e.top(2)
		if err := e.push(i, append([]byte(nil), a...)); err != nil {
			return err
		}
		return e.push(i, append([]byte(nil), b...))
	case OP_2ROT:
		if err := e.need(i, 6); err != nil {
			return err
		}
		n := len(e.stack)
		a := append([]byte(nil), e.stack[n-6]...)
		b := append([]byte(nil), e.stack[n-5]...)
		e.stack = append(e.stack[:n-6], e.stack[n-4:]...)
		e.memoryBytes -= int64(len(a) + len(b))
		if err := e.push(i, a); err != nil {
			return err
		}
		return e.push(i, b)
	case OP_2SWAP:
		if err := e.need(i, 4); err != nil {
			return err
		}
		n := len(e.stack)
		e.stack[n-4], e.stack[n-2] = e.stack[n-2], e.stack[n-4]
		e.stack[n-3], e.stack[n-1] = e.stack[n-1], e.stack[n-3]
		return nil
	case OP_IFDUP:
		if err := e.need(i, 1); err != nil {
			return err
		}
		v := e.top(0)
		if IsTrue(v) {
			return e.push(i, append([]byte(nil), v...))
		}
		return nil
	case OP_DEPTH:
		return e.push(i, EncodeScriptNum(int64(len(e.stack))))
	case OP_DROP:
		_, err := e.pop(i)
		return err
	case OP_DUP:
		if err := e.need(i, 1); err != nil {
			return err
		}
		return e.push(i, append([]byte(nil), e.top(0)...))
	case OP_NIP:
		if err := e.need(i, 2); err != nil {
			return err
		}
		n := len(e.stack)
		removed := e.stack[n-2]
		e.stack = append(e.stack[:n-2], e.stack[n-1])
		e.memoryBytes -= int64(len(removed))
		return nil
	case OP_OVER:
		if err := e.need(i, 2); err != nil {
			return err
		}
		return e.push(i, append([]byte(nil), e.top(1)...))
	case OP_PICK, OP_ROLL:
		if err := e.need(i, 1); err != nil {
			return err
		}
		nBytes, err := e.pop(i)
		if err != nil {
			return err
		}
		n, err := e.num(i, nBytes)
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(e.stack) {
			return newErr(ErrStackUnderflow, i, "%s index out of range", opName(op))
		}
		idx := len(e.stack) - 1 - int(n)
		v := append([]byte(nil), e.stack[idx]...)
		if op == OP_ROLL {
			removed := e.stack[idx]
			e.stack = append(e.stack[:idx], e.stack[idx+1:]...)
			e.memoryBytes -= int64(len(removed))
		}
		return e.push(i, v)
	case OP_ROT:
		if err := e.need(i, 3); err != nil {
			return err
		}
		n := len(e.stack)
		e.stack[n-3], e.stack[n-2], e.stack[n-1] = e.stack[n-2], e.stack[n-1], e.stack[n-3]
		return nil
	case OP_SWAP:
		if err := e.need(i, 2); err != nil {
			return err
		}
		n := len(e.stack)
		e.stack[n-1], e.stack[n-2] = e.stack[n-2], e.stack[n-1]
		return nil
	case OP_TUCK:
		if err := e.need(i, 2); err != nil {
			return err
		}
		n := len(e.stack)
		v := append([]byte(nil), e.stack[n-1]...)
		if e.memoryBytes+int64(len(v)) > e.limits.memoryLimit() {
			return newErr(ErrStackMemoryExceeded, i, "stack memory would exceed %d bytes", e.limits.memoryLimit())
		}
		e.stack = append(e.stack[:n-2], append([][]byte{v}, e.stack[n-2:]...)...)
		e.memoryBytes += int64(len(v))
		return nil

	case OP_SIZE:
		if err := e.need(i, 1); err != nil {
			return err
		}
		return e.push(i, EncodeScriptNum(int64(len(e.top(0)))))

	case OP_EQUAL, OP_EQUALVERIFY:
		if err := e.need(i, 2); err != nil {
			return err
		}
		a, err := e.pop(i)
		if err != nil {
			return err
		}
		b, err := e.pop(i)
		if err != nil {
			return err
		}
		if err := e.push(i, BoolBytes(bytes.Equal(a, b))); err != nil {
			return err
		}
		if op == OP_EQUALVERIFY {
			v, _ := e.pop(i)
			if !IsTrue(v) {
				return newErr(ErrVerifyFailed, i, "OP_EQUALVERIFY")
			}
		}
		return nil

	case OP_1ADD, OP_1SUB, OP_NEGATE, OP_ABS, OP_NOT, OP_0NOTEQUAL:
		if err := e.need(i, 1); err != nil {
			return err
		}
		raw, err := e.pop(i)
		if err != nil {
			return err
		}
		n, err := e.num(i, raw)
		if err != nil {
			return err
		}
		var r int64
		switch op {
		case OP_1ADD:
			r = n + 1
		case OP_1SUB:
			r = n - 1
		case OP_NEGATE:
			r = -n
		case OP_ABS:
			if n < 0 {
				r = -n
			} else {
				r = n
			}
		case OP_NOT:
			if n == 0 {
				r = 1
			}
		case OP_0NOTEQUAL:
			if n != 0 {
				r = 1
			}
		}
		return e.push(i, EncodeScriptNum(r))

	case OP_ADD, OP_SUB, OP_BOOLAND, OP_BOOLOR, OP_NUMEQUAL, OP_NUMEQUALVERIFY,
		OP_NUMNOTEQUAL, OP_LESSTHAN, OP_GREATERTHAN, OP_LESSTHANOREQUAL,
		OP_GREATERTHANOREQUAL, OP_MIN, OP_MAX:
		if err := e.need(i, 2); err != nil {
			return err
		}
		bRaw, err := e.pop(i)
		if err != nil {
			return err
		}
		aRaw, err := e.pop(i)
		if err != nil {
			return err
		}
		a, err := e.num(i, aRaw)
		if err != nil {
			return err
		}
		b, err := e.num(i, bRaw)
		if err != nil {
			return err
		}
		var result []byte
		switch op {
		case OP_ADD:
			result = EncodeScriptNum(a + b)
		case OP_SUB:
			result = EncodeScriptNum(a - b)
		case OP_BOOLAND:
			result = BoolBytes(a != 0 && b != 0)
		case OP_BOOLOR:
			result = BoolBytes(a != 0 || b != 0)
		case OP_NUMEQUAL, OP_NUMEQUALVERIFY:
			result = BoolBytes(a == b)
		case OP_NUMNOTEQUAL:
			result = BoolBytes(a != b)
		case OP_LESSTHAN:
			result = BoolBytes(a < b)
		case OP_GREATERTHAN:
			result = BoolBytes(a > b)
		case OP_LESSTHANOREQUAL:
			result = BoolBytes(a <= b)
		case OP_GREATERTHANOREQUAL:
			result = BoolBytes(a >= b)
		case OP_MIN:
			if a < b {
				result = EncodeScriptNum(a)
			} else {
				result = EncodeScriptNum(b)
			}
		case OP_MAX:
			if a > b {
				result = EncodeScriptNum(a)
			} else {
				result = EncodeScriptNum(b)
			}
		}
		if err := e.push(i, result); err != nil {
			return err
		}
		if op == OP_NUMEQUALVERIFY {
			v, _ := e.pop(i)
			if !IsTrue(v) {
				return newErr(ErrVerifyFailed, i, "OP_NUMEQUALVERIFY")
			}
		}
		return nil

	case OP_WITHIN:
		if err := e.need(i, 3); err != nil {
			return err
		}
		maxRaw, err := e.pop(i)
		if err != nil {
			return err
		}
		minRaw, err := e.pop(i)
		if err != nil {
			return err
		}
		xRaw, err := e.pop(i)
		if err != nil {
			return err
		}
		x, err := e.num(i, xRaw)
		if err != nil {
			return err
		}
		lo, err := e.num(i, minRaw)
		if err != nil {
			return err
		}
		hi, err := e.num(i, maxRaw)
		if err != nil {
			return err
		}
		return e.push(i, BoolBytes(x >= lo && x < hi))

	case OP_RIPEMD160:
		return e.unaryHash(i, func(d []byte) []byte { h := hash.Ripemd160(d); return h[:] })
	case OP_SHA1:
		return e.unaryHash(i, func(d []byte) []byte { h := hash.Sha1(d); return h[:] })
	case OP_SHA256:
		return e.unaryHash(i, func(d []byte) []byte { h := hash.Sha256(d); return h[:] })
	case OP_HASH160:
		return e.unaryHash(i, func(d []byte) []byte { h := hash.Hash160Of(d); return h[:] })
	case OP_HASH256:
		return e.unaryHash(i, func(d []byte) []byte { h := hash.Sha256d(d); return h[:] })

	case OP_CODESEPARATOR:
		e.lastCodeSeparator = i + 1
		return nil

	case OP_CHECKSIG, OP_CHECKSIGVERIFY:
		if err := e.need(i, 2); err != nil {
			return err
		}
		pubKey, err := e.pop(i)
		if err != nil {
			return err
		}
		sig, err := e.pop(i)
		if err != nil {
			return err
		}
		ok, err := e.checkSig(i, s, sig, pubKey)
		if err != nil {
			return err
		}
		if op == OP_CHECKSIGVERIFY {
			if !ok {
				return newErr(ErrVerifyFailed, i, "OP_CHECKSIGVERIFY")
			}
			return nil
		}
		return e.push(i, BoolBytes(ok))

	case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
		ok, err := e.checkMultisig(i, s)
		if err != nil {
			return err
		}
		if op == OP_CHECKMULTISIGVERIFY {
			if !ok {
				return newErr(ErrVerifyFailed, i, "OP_CHECKMULTISIGVERIFY")
			}
			return nil
		}
		return e.push(i, BoolBytes(ok))

	case OP_CHECKLOCKTIMEVERIFY, OP_CHECKSEQUENCEVERIFY:
		// The interpreter holds no transaction locktime or sequence, so
		// neither opcode compares its operand against one: beyond
		// requiring a top-of-stack operand that decodes as a script
		// number, both behave as NOPs, matching classic pre-activation
		// behavior.
		// CLTV/CSV operands get the relaxed 5-byte ceiling, not the
		// 4-byte ordinary-arithmetic one: a full uint32 locktime can
		// need the 5th byte purely to carry a zero sign bit.
		if err := e.need(i, 1); err != nil {
			return err
		}
		raw := e.top(0)
		if _, err := DecodeScriptNum(raw, ExtendedMaxNumLen); err != nil {
			return newErr(ErrNumericOverflow, i, "%s", err.Error())
		}
		return nil

	default:
		return newErr(ErrMalformed, i, "unimplemented opcode 0x%02x", byte(op))
	}
}

func (e *Engine) unaryHash(opIdx int, f func([]byte) []byte) error {
	if err := e.need(opIdx, 1); err != nil {
		return err
	}
	v, err := e.pop(opIdx)
	if err != nil {
		return err
	}
	return e.push(opIdx, f(v))
}

// checkSig builds the subscript (from the last OP_CODESEPARATOR in s to
// the end, with the exact signature bytes removed) and delegates to the
// configured SignatureChecker (spec.md §4.3 OP_CHECKSIG steps 2-4).
func (e *Engine) checkSig(opIdx int, s *Script, sig, pubKey []byte) (bool, error) {
	sub := subScript(s, e.lastCodeSeparator, sig)
	return e.checker.CheckSignature(sig, pubKey, sub)
}

// subScript returns the chunks of s from fromIdx to the end, with any
// push chunk whose data exactly equals sig removed (FindAndDelete,
// spec.md §4.3 step 2).
func subScript(s *Script, fromIdx int, sig []byte) *Script {
	out := &Script{}
	for idx := fromIdx; idx < len(s.Chunks); idx++ {
		c := s.Chunks[idx]
		if c.Data != nil && bytes.Equal(c.Data, sig) {
			continue
		}
		out.Chunks = append(out.Chunks, c)
	}
	return out
}

// checkMultisig implements the classic N-of-M OP_CHECKMULTISIG with the
// historic "extra pop" quirk preserved for on-chain compatibility
// (spec.md §4.3).
func (e *Engine) checkMultisig(opIdx int, s *Script) (bool, error) {
	if err := e.need(opIdx, 1); err != nil {
		return false, err
	}
	nRaw, err := e.pop(opIdx)
	if err != nil {
		return false, err
	}
	n64, err := e.num(opIdx, nRaw)
	if err != nil {
		return false, err
	}
	n := int(n64)
	if n < 0 || n > 20 {
		return false, newErr(ErrNumericOverflow, opIdx, "public key count %d out of range", n)
	}
	if err := e.need(opIdx, n); err != nil {
		return false, err
	}
	pubKeys := make([][]byte, n)
	for k := n - 1; k >= 0; k-- {
		v, err := e.pop(opIdx)
		if err != nil {
			return false, err
		}
		pubKeys[k] = v
	}

	if err := e.need(opIdx, 1); err != nil {
		return false, err
	}
	mRaw, err := e.pop(opIdx)
	if err != nil {
		return false, err
	}
	m64, err := e.num(opIdx, mRaw)
	if err != nil {
		return false, err
	}
	m := int(m64)
	if m < 0 || m > n {
		return false, newErr(ErrNumericOverflow, opIdx, "signature count %d out of range for %d keys", m, n)
	}
	if err := e.need(opIdx, m); err != nil {
		return false, err
	}
	sigs := make([][]byte, m)
	for k := m - 1; k >= 0; k-- {
		v, err := e.pop(opIdx)
		if err != nil {
			return false, err
		}
		sigs[k] = v
	}

	// Historic off-by-one: OP_CHECKMULTISIG pops one extra, unused item.
	if err := e.need(opIdx, 1); err != nil {
		return false, err
	}
	if _, err := e.pop(opIdx); err != nil {
		return false, err
	}

	sub := subScript(s, e.lastCodeSeparator, nil)
	for _, sig := range sigs {
		sub = subScript(sub, 0, sig)
	}

	sigIdx, keyIdx := 0, 0
	for sigIdx < len(sigs) && keyIdx < len(pubKeys) {
		ok, err := e.checker.CheckSignature(sigs[sigIdx], pubKeys[keyIdx], sub)
		if err != nil {
			return false, err
		}
		if ok {
			sigIdx++
		}
		keyIdx++
		if len(sigs)-sigIdx > len(pubKeys)-keyIdx {
			return false, nil
		}
	}
	return sigIdx == len(sigs), nil
}
