// Package encoding implements the low-level append/read primitives shared
// by element, node, link, and proof encoding (spec.md §6.3, §6.4, §6.5):
// big-endian fixed-width integers and varint-length-prefixed byte
// strings, built the same way as ledger/common/encoding.go's
// AppendUint*/ReadUint* helpers.
package encoding

import (
	"encoding/binary"
	"fmt"
)

// AppendUint8 appends a single byte.
func AppendUint8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

// AppendUint16 appends a big-endian uint16.
func AppendUint16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendUint32 appends a big-endian uint32.
func AppendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendUint64 appends a big-endian uint64.
func AppendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendInt64 appends a big-endian two's-complement int64.
func AppendInt64(dst []byte, v int64) []byte {
	return AppendUint64(dst, uint64(v))
}

// AppendInt128 appends a signed 128-bit integer as two big-endian
// int64 halves (high, low), the wire form used by BigSumTree's sum
// (spec.md §3).
func AppendInt128(dst []byte, hi, lo int64) []byte {
	dst = AppendInt64(dst, hi)
	dst = AppendInt64(dst, lo)
	return dst
}

// AppendVarintData appends a uvarint length prefix followed by data,
// eliminating concatenation ambiguity for variable-length fields
// (spec.md §4.2, §6.3).
func AppendVarintData(dst []byte, data []byte) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(data)))
	dst = append(dst, buf[:n]...)
	return append(dst, data...)
}

// ReadUint8 reads a single byte.
func ReadUint8(in []byte) (v uint8, rest []byte, err error) {
	if len(in) < 1 {
		return 0, in, fmt.Errorf("encoding: need 1 byte, have %d", len(in))
	}
	return in[0], in[1:], nil
}

// ReadUint16 reads a big-endian uint16.
func ReadUint16(in []byte) (v uint16, rest []byte, err error) {
	if len(in) < 2 {
		return 0, in, fmt.Errorf("encoding: need 2 bytes, have %d", len(in))
	}
	return binary.BigEndian.Uint16(in), in[2:], nil
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(in []byte) (v uint32, rest []byte, err error) {
	if len(in) < 4 {
		return 0, in, fmt.Errorf("encoding: need 4 bytes, have %d", len(in))
	}
	return binary.BigEndian.Uint32(in), in[4:], nil
}

// ReadUint64 reads a big-endian uint64.
func ReadUint64(in []byte) (v uint64, rest []byte, err error) {
	if len(in) < 8 {
		return 0, in, fmt.Errorf("encoding: need 8 bytes, have %d", len(in))
	}
	return binary.BigEndian.Uint64(in), in[8:], nil
}

// ReadInt64 reads a big-endian two's-complement int64.
func ReadInt64(in []byte) (v int64, rest []byte, err error) {
	u, rest, err := ReadUint64(in)
	return int64(u), rest, err
}

// ReadInt128 reads a signed 128-bit integer as two big-endian int64
// halves (high, low).
func ReadInt128(in []byte) (hi, lo int64, rest []byte, err error) {
	hi, rest, err = ReadInt64(in)
	if err != nil {
		return 0, 0, in, err
	}
	lo, rest, err = ReadInt64(rest)
	if err != nil {
		return 0, 0, in, err
	}
	return hi, lo, rest, nil
}

// ReadVarintData reads a uvarint length prefix and then that many bytes.
func ReadVarintData(in []byte) (data []byte, rest []byte, err error) {
	n, used := binary.Uvarint(in)
	if used <= 0 {
		return nil, in, fmt.Errorf("encoding: malformed varint length prefix")
	}
	rest = in[used:]
	if uint64(len(rest)) < n {
		return nil, in, fmt.Errorf("encoding: need %d bytes, have %d", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}

// ReadSlice reads exactly n bytes.
func ReadSlice(in []byte, n int) (data []byte, rest []byte, err error) {
	if len(in) < n {
		return nil, in, fmt.Errorf("encoding: need %d bytes, have %d", n, len(in))
	}
	return in[:n], in[n:], nil
}

// MaxDecodeSize bounds any single decode to resist malformed length
// headers (spec.md §4.7.6).
const MaxDecodeSize = 100 * 1024 * 1024
