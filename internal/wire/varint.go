// Package wire implements the primitive encodings shared by every packet:
// the protocol VarInt and a byte buffer that reads and writes protocol fields.
package wire

import (
	"errors"
	"io"
)

// MaxVarIntLen is the maximum number of bytes a 32-bit VarInt can occupy.
const MaxVarIntLen = 5

var (
	ErrVarIntTruncated = errors.New("wire: varint truncated")
	ErrVarIntTooLong   = errors.New("wire: varint longer than 5 bytes")
)

// DecodeVarInt decodes a VarInt from the head of buf without consuming it.
// It returns the value and the number of bytes the encoding occupies.
// ErrVarIntTruncated means buf ended before the last byte of the varint.
func DecodeVarInt(buf []byte) (int32, int, error) {
	var v uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrVarIntTruncated
		}
		b := buf[i]
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(v), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooLong
}

// VarIntSize returns the number of bytes needed to encode v.
// Negative values always take the full five bytes.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// AppendVarInt appends the encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// WriteVarInt writes v to w in a single Write call.
func WriteVarInt(w io.Writer, v int32) (int, error) {
	var tmp [MaxVarIntLen]byte
	return w.Write(AppendVarInt(tmp[:0], v))
}

// ReadVarInt reads a VarInt one byte at a time from r.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var v uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && i > 0 {
				return 0, ErrVarIntTruncated
			}
			return 0, err
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, ErrVarIntTooLong
}
