package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
)

var ErrStringTooLong = errors.New("wire: string exceeds maximum length")

// Buffer is a bytes.Buffer that knows how to read and write protocol fields.
// Packets encode into a Buffer and decode out of one.
type Buffer struct {
	bytes.Buffer
}

// NewBuffer returns a Buffer reading from b. The Buffer takes ownership of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{Buffer: *bytes.NewBuffer(b)}
}

func (b *Buffer) ReadVarInt() (int32, error) {
	v, err := ReadVarInt(&b.Buffer)
	if err != nil {
		return 0, fmt.Errorf("reading varint: %w", err)
	}
	return v, nil
}

func (b *Buffer) WriteVarInt(v int32) {
	var tmp [MaxVarIntLen]byte
	b.Write(AppendVarInt(tmp[:0], v))
}

// ReadString reads a varint-prefixed UTF-8 string of at most maxLen characters.
func (b *Buffer) ReadString(maxLen int) (string, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return "", fmt.Errorf("reading string size: %w", err)
	}
	// Each character may take up to four bytes on the wire.
	if n < 0 || int(n) > maxLen*4 {
		return "", fmt.Errorf("string size %d: %w", n, ErrStringTooLong)
	}
	raw := b.Next(int(n))
	if len(raw) != int(n) {
		return "", fmt.Errorf("reading string: %w", io.ErrUnexpectedEOF)
	}
	if utf8.RuneCount(raw) > maxLen {
		return "", fmt.Errorf("string of %d characters: %w", utf8.RuneCount(raw), ErrStringTooLong)
	}
	return string(raw), nil
}

// WriteProtocolString writes s with a varint length prefix, refusing strings longer
// than maxLen characters.
func (b *Buffer) WriteProtocolString(s string, maxLen int) error {
	if utf8.RuneCountInString(s) > maxLen {
		return fmt.Errorf("writing string of %d characters: %w", utf8.RuneCountInString(s), ErrStringTooLong)
	}
	b.WriteVarInt(int32(len(s)))
	b.WriteString(s)
	return nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	raw := b.Next(2)
	if len(raw) != 2 {
		return 0, fmt.Errorf("reading u16: %w", io.ErrUnexpectedEOF)
	}
	return binary.BigEndian.Uint16(raw), nil
}

func (b *Buffer) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func (b *Buffer) ReadInt64() (int64, error) {
	raw := b.Next(8)
	if len(raw) != 8 {
		return 0, fmt.Errorf("reading i64: %w", io.ErrUnexpectedEOF)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (b *Buffer) WriteInt64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.Write(tmp[:])
}

func (b *Buffer) ReadBool() (bool, error) {
	c, err := b.ReadByte()
	if err != nil {
		return false, fmt.Errorf("reading bool: %w", io.ErrUnexpectedEOF)
	}
	switch c {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte 0x%02X", c)
	}
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteByte(1)
		return
	}
	b.WriteByte(0)
}

// ReadUUID reads a 128-bit UUID as two big-endian 64-bit halves.
func (b *Buffer) ReadUUID() (uuid.UUID, error) {
	raw := b.Next(16)
	if len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("reading uuid: %w", io.ErrUnexpectedEOF)
	}
	return uuid.FromBytes(raw)
}

func (b *Buffer) WriteUUID(id uuid.UUID) {
	b.Write(id[:])
}

// ReadByteArray reads a varint-prefixed byte array of at most maxLen bytes.
func (b *Buffer) ReadByteArray(maxLen int) ([]byte, error) {
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("reading array size: %w", err)
	}
	if n < 0 || int(n) > maxLen {
		return nil, fmt.Errorf("array size %d exceeds %d", n, maxLen)
	}
	raw := b.Next(int(n))
	if len(raw) != int(n) {
		return nil, fmt.Errorf("reading array: %w", io.ErrUnexpectedEOF)
	}
	return bytes.Clone(raw), nil
}

func (b *Buffer) WriteByteArray(p []byte) {
	b.WriteVarInt(int32(len(p)))
	b.Write(p)
}

// ReadRemaining consumes and returns every unread byte.
func (b *Buffer) ReadRemaining() []byte {
	return bytes.Clone(b.Next(b.Len()))
}
