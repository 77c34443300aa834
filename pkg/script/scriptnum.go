package script

import "fmt"

// DefaultMaxNumLen is the default script-number length ceiling (4 bytes),
// matching classic Bitcoin arithmetic opcode limits (spec.md §4.3).
const DefaultMaxNumLen = 4

// ExtendedMaxNumLen is the relaxed ceiling (5 bytes) spec.md §4.3 permits
// for CLTV/CSV operands, which must be able to represent locktimes up to
// 2^32-1.
const ExtendedMaxNumLen = 5

// DecodeScriptNum interprets data as a Bitcoin script number: sign-and-
// magnitude, little-endian, with the sign carried in the high bit of the
// last byte. maxLen bounds the accepted length (spec.md: "arithmetic
// opcodes fail if either operand exceeds the script-number length
// limit").
func DecodeScriptNum(data []byte, maxLen int) (int64, error) {
	if len(data) > maxLen {
		return 0, fmt.Errorf("script: number exceeds %d-byte limit (got %d)", maxLen, len(data))
	}
	if len(data) == 0 {
		return 0, nil
	}
	var result int64
	for i := 0; i < len(data); i++ {
		result |= int64(data[i]) << (8 * uint(i))
	}
	if data[len(data)-1]&0x80 != 0 {
		result &^= int64(0x80) << (8 * uint(len(data)-1))
		result = -result
	}
	return result, nil
}

// EncodeScriptNum encodes n as a Bitcoin script number.
func EncodeScriptNum(n int64) []byte {
	if n == 0 {
		return []byte{}
	}
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	var out []byte
	for abs > 0 {
		out = append(out, byte(abs&0xff))
		abs >>= 8
	}
	if out[len(out)-1]&0x80 != 0 {
		if neg {
			out = append(out, 0x80)
		} else {
			out = append(out, 0x00)
		}
	} else if neg {
		out[len(out)-1] |= 0x80
	}
	return out
}

// IsTrue reports whether data is "true" by Bitcoin's boolean coercion:
// false iff empty, or every byte is zero except possibly an all-zero-but-
// sign-bit last byte (negative zero).
func IsTrue(data []byte) bool {
	for i, b := range data {
		if b == 0 {
			continue
		}
		if i == len(data)-1 && b == 0x80 {
			return false
		}
		return true
	}
	return false
}

// BoolBytes returns the canonical stack encoding of a boolean.
func BoolBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{}
}
