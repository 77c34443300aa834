// Package txbin implements the binary primitives shared by the transaction,
// merkle-path, and BEEF codecs: VarInt, fixed-width little-endian integers,
// and a length-checked byte reader.
//
// Grounded on the teacher's EncodeVarInt/DecodeVarInt pair
// (pkg/bitcoin/transaction.go in the bitcoinecho-node teacher), generalized
// into a reusable package with a cursor-based reader so every consumer
// (tx, merklepath, beef) gets the same truncation behavior for free.
package txbin

import (
	"encoding/binary"
	"fmt"
)

// VarInt encodes value as a Bitcoin variable-length integer.
func VarInt(value uint64) []byte {
	switch {
	case value < 0xfd:
		return []byte{byte(value)}
	case value <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(value))
		return buf
	case value <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(value))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], value)
		return buf
	}
}

// VarIntLen returns the number of bytes VarInt(value) would produce,
// without allocating.
func VarIntLen(value uint64) int {
	switch {
	case value < 0xfd:
		return 1
	case value <= 0xffff:
		return 3
	case value <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// ErrTruncated is returned (wrapped) whenever a reader runs out of bytes
// before it can satisfy a requested read.
type ErrTruncated struct {
	Want int
	Have int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("truncated input: want %d bytes, have %d", e.Want, e.Have)
}

// Reader is a cursor over a byte slice that checks remaining length before
// every consume, matching spec.md's "readers check remaining-length before
// each consume" requirement.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential, bounds-checked reads.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Bytes reads n raw bytes and advances the cursor.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, &ErrTruncated{Want: n, Have: r.Remaining()}
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// ReversedHash256 reads 32 bytes and reverses them, the convention used for
// outpoint prev-TXIDs on the wire.
func (r *Reader) ReversedHash256() ([32]byte, error) {
	var out [32]byte
	b, err := r.Bytes(32)
	if err != nil {
		return out, err
	}
	for i := 0; i < 32; i++ {
		out[i] = b[31-i]
	}
	return out, nil
}

// Hash256 reads 32 bytes verbatim (no reversal).
func (r *Reader) Hash256() ([32]byte, error) {
	var out [32]byte
	b, err := r.Bytes(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// U8 reads a single byte.
func (r *Reader) U8() (byte, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// VarInt reads a Bitcoin variable-length integer.
func (r *Reader) VarInt() (uint64, error) {
	first, err := r.U8()
	if err != nil {
		return 0, err
	}
	switch first {
	case 0xfd:
		b, err := r.Bytes(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 0xfe:
		b, err := r.Bytes(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 0xff:
		b, err := r.Bytes(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	default:
		return uint64(first), nil
	}
}

// VarBytes reads a varint length prefix followed by that many bytes.
func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, &ErrTruncated{Want: int(n), Have: r.Remaining()}
	}
	return r.Bytes(int(n))
}

// AppendU32LE appends a little-endian uint32 to dst.
func AppendU32LE(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// AppendU64LE appends a little-endian uint64 to dst.
func AppendU64LE(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// AppendReversed appends h to dst with byte order reversed (used when
// writing a TXID into an outpoint field).
func AppendReversed(dst []byte, h [32]byte) []byte {
	for i := len(h) - 1; i >= 0; i-- {
		dst = append(dst, h[i])
	}
	return dst
}

// AppendVarBytes appends a varint length prefix followed by data.
func AppendVarBytes(dst []byte, data []byte) []byte {
	dst = append(dst, VarInt(uint64(len(data)))...)
	return append(dst, data...)
}
