package transport

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"mcwire/internal/crypto"
	"mcwire/internal/wire"
)

const (
	// MaxFrameLength is the largest length a three-byte varint prefix can carry.
	MaxFrameLength = 1<<21 - 1
	// BufferCapacity bounds each of the two byte queues of a FrameBuffer:
	// the largest frame plus its length prefix.
	BufferCapacity = MaxFrameLength + 3
	// MaxDataLength bounds the declared size of a decompressed payload.
	MaxDataLength = 1 << 23
)

// BufferState is the result of FrameBuffer.Poll.
type BufferState int

const (
	// Waiting means more bytes are needed before a frame is complete.
	Waiting BufferState = iota
	// PacketReady means TakeFrame will return a complete frame.
	PacketReady
	// BufferError means the stream is unusable; Poll also returns the cause.
	BufferError
)

func (s BufferState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case PacketReady:
		return "packet-ready"
	case BufferError:
		return "error"
	default:
		return fmt.Sprintf("BufferState(%d)", int(s))
	}
}

// FrameBuffer reassembles frames out of a chunked byte stream.
//
// Raw bytes land in the ingress queue. Poll moves them, decrypting in place
// when a codec is installed, into the decoded queue, which holds zero or more
// complete frames followed by at most one partial frame. Each queue is bounded
// by the buffer capacity, so a connection never holds more than twice that.
type FrameBuffer struct {
	ingress byteQueue
	decoded byteQueue

	decryption    *crypto.Codec
	decompressing bool
}

// NewFrameBuffer returns a FrameBuffer sized for the largest legal frame.
func NewFrameBuffer() *FrameBuffer {
	return NewFrameBufferSize(BufferCapacity)
}

// NewFrameBufferSize returns a FrameBuffer whose queues hold capacity bytes each.
func NewFrameBufferSize(capacity int) *FrameBuffer {
	return &FrameBuffer{
		ingress: newByteQueue(capacity),
		decoded: newByteQueue(capacity),
	}
}

// Len reports the bytes held in the ingress and decoded queues.
func (b *FrameBuffer) Len() (ingress, decoded int) {
	return b.ingress.Len(), b.decoded.Len()
}

// EnableDecryption installs the read codec. It must be called right after
// taking the last plaintext frame: anything Poll already moved past that frame
// arrived after the peer switched to ciphertext, so it is decrypted here.
// Every other byte is decrypted once, when Poll moves it out of ingress.
func (b *FrameBuffer) EnableDecryption(codec *crypto.Codec) {
	b.decryption = codec
	codec.Decrypt(b.decoded.Bytes())
}

// EnableDecompression makes TakeFrame expect the compression envelope.
func (b *FrameBuffer) EnableDecompression() {
	b.decompressing = true
}

// Write appends raw bytes to ingress. It returns io.ErrShortWrite if ingress
// could not hold all of p.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	n := b.ingress.Append(p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Fill performs a single Read from r directly into the free space of ingress.
func (b *FrameBuffer) Fill(r io.Reader) (int, error) {
	space := b.ingress.Tail(b.ingress.Free())
	if len(space) == 0 {
		return 0, ErrFrameTooLarge
	}
	n, err := r.Read(space)
	b.ingress.Commit(n)
	return n, err
}

// Poll transfers as much of ingress as the decoded queue can take and reports
// whether a complete frame sits at the head of the decoded queue.
func (b *FrameBuffer) Poll() (BufferState, error) {
	if n := min(b.ingress.Len(), b.decoded.Free()); n > 0 {
		chunk := b.ingress.Bytes()[:n]
		if b.decryption != nil {
			b.decryption.Decrypt(chunk)
		}
		b.decoded.Append(chunk)
		b.ingress.Advance(n)
	}

	full := b.decoded.Free() == 0
	length, size, err := wire.DecodeVarInt(b.decoded.Bytes())
	switch {
	case errors.Is(err, wire.ErrVarIntTruncated):
		if full {
			return BufferError, fmt.Errorf("%w: length prefix does not fit in %d bytes", ErrFrameTooLarge, b.decoded.Cap())
		}
		return Waiting, nil
	case err != nil:
		return BufferError, fmt.Errorf("%w: %v", ErrMalformedLength, err)
	case length < 0:
		return BufferError, fmt.Errorf("%w: negative length %d", ErrMalformedLength, length)
	}

	total := size + int(length)
	switch {
	case total <= b.decoded.Len():
		return PacketReady, nil
	case total > b.decoded.Cap():
		return BufferError, fmt.Errorf("%w: frame of %d bytes exceeds buffer of %d", ErrFrameTooLarge, total, b.decoded.Cap())
	case full:
		return BufferError, fmt.Errorf("%w: buffer full at %d bytes", ErrFrameTooLarge, b.decoded.Len())
	default:
		return Waiting, nil
	}
}

// TakeFrame removes the frame at the head of the decoded queue and returns its
// contents without the length prefix: the packet id followed by the body.
// When decompression is enabled the compression envelope is unwrapped first.
// Call it only after Poll reported PacketReady.
func (b *FrameBuffer) TakeFrame() ([]byte, error) {
	length, size, err := wire.DecodeVarInt(b.decoded.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLength, err)
	}
	if length < 0 || size+int(length) > b.decoded.Len() {
		return nil, fmt.Errorf("take frame: no complete frame buffered")
	}
	b.decoded.Advance(size)
	frame := bytes.Clone(b.decoded.Bytes()[:length])
	b.decoded.Advance(int(length))

	if !b.decompressing {
		return frame, nil
	}
	return inflateFrame(frame)
}

// inflateFrame unwraps dataLength:varint + payload.
func inflateFrame(frame []byte) ([]byte, error) {
	dataLength, size, err := wire.DecodeVarInt(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: reading data length: %v", ErrDecompression, err)
	}
	payload := frame[size:]
	if dataLength == 0 {
		return payload, nil
	}
	if dataLength < 0 || dataLength > MaxDataLength {
		return nil, fmt.Errorf("%w: data length %d out of range", ErrDecompression, dataLength)
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer zr.Close()

	out := bytes.NewBuffer(make([]byte, 0, dataLength))
	// Read one byte past dataLength so an oversized stream is detected.
	n, err := io.Copy(out, io.LimitReader(zr, int64(dataLength)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	if n != int64(dataLength) {
		return nil, fmt.Errorf("%w: inflated %d bytes, declared %d", ErrDecompression, n, dataLength)
	}
	return out.Bytes(), nil
}
