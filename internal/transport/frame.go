package transport

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"mcwire/internal/wire"
)

// WireFrame is an outbound packet: an id and its encoded body, ready to be
// compressed and serialized.
//
// Before Compress the frame serializes as
//
//	[uncompressedLength varint][packetId varint][body]
//
// and after Compress as
//
//	[wireLength varint][dataLength varint][body]
//
// where body now starts with the packet id (zlib-compressed when dataLength > 0).
type WireFrame struct {
	packetID           int32
	body               []byte
	uncompressedLength int32

	compressed bool
	wireLength int32
	dataLength int32
}

// NewWireFrame builds a frame from a packet id and a body already encoded
// for the target protocol version.
func NewWireFrame(packetID int32, body []byte) (*WireFrame, error) {
	n := wire.VarIntSize(packetID) + len(body)
	if n > MaxFrameLength {
		return nil, fmt.Errorf("%w: packet 0x%02X of %d bytes", ErrFrameTooLarge, packetID, n)
	}
	return &WireFrame{
		packetID:           packetID,
		body:               body,
		uncompressedLength: int32(n),
	}, nil
}

// ParseWireFrame rebuilds a frame from the bytes FrameBuffer.TakeFrame returns.
func ParseWireFrame(frame []byte) (*WireFrame, error) {
	id, n, err := wire.DecodeVarInt(frame)
	if err != nil {
		return nil, fmt.Errorf("reading packet id: %w", err)
	}
	return NewWireFrame(id, frame[n:])
}

// PacketID returns the frame's packet id.
func (f *WireFrame) PacketID() int32 { return f.packetID }

// Body returns the encoded body. After Compress it is the compression payload.
func (f *WireFrame) Body() []byte { return f.body }

// UncompressedLength is the size of packet id plus body.
func (f *WireFrame) UncompressedLength() int32 { return f.uncompressedLength }

// Compressed reports whether Compress has run, and the resulting dataLength.
func (f *WireFrame) Compressed() (bool, int32) { return f.compressed, f.dataLength }

// Compress prepares the frame for a connection with compression enabled.
// Frames larger than threshold are deflated; smaller ones are wrapped with a
// zero dataLength marker. Compress must be called at most once. A frame
// whose envelope would exceed MaxFrameLength is refused with
// ErrFrameTooLarge and left unchanged.
func (f *WireFrame) Compress(threshold int32) error {
	plain := make([]byte, 0, f.uncompressedLength)
	plain = wire.AppendVarInt(plain, f.packetID)
	plain = append(plain, f.body...)

	if f.uncompressedLength <= threshold {
		if f.uncompressedLength+1 > MaxFrameLength {
			return fmt.Errorf("%w: packet 0x%02X needs %d bytes with its marker", ErrFrameTooLarge, f.packetID, f.uncompressedLength+1)
		}
		f.body = plain
		f.wireLength = f.uncompressedLength + 1
		f.dataLength = 0
		f.compressed = true
		return nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return fmt.Errorf("deflating packet 0x%02X: %w", f.packetID, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("deflating packet 0x%02X: %w", f.packetID, err)
	}

	wireLength := buf.Len() + wire.VarIntSize(f.uncompressedLength)
	if wireLength > MaxFrameLength {
		return fmt.Errorf("%w: packet 0x%02X deflates to %d bytes", ErrFrameTooLarge, f.packetID, wireLength)
	}
	f.body = buf.Bytes()
	f.wireLength = int32(wireLength)
	f.dataLength = f.uncompressedLength
	f.compressed = true
	return nil
}

// Size returns the serialized size, including the leading length prefix.
func (f *WireFrame) Size() int {
	if f.compressed {
		return wire.VarIntSize(f.wireLength) + int(f.wireLength)
	}
	return wire.VarIntSize(f.uncompressedLength) + int(f.uncompressedLength)
}

// AppendTo appends the serialized frame to dst.
func (f *WireFrame) AppendTo(dst []byte) []byte {
	if f.compressed {
		dst = wire.AppendVarInt(dst, f.wireLength)
		dst = wire.AppendVarInt(dst, f.dataLength)
		return append(dst, f.body...)
	}
	dst = wire.AppendVarInt(dst, f.uncompressedLength)
	dst = wire.AppendVarInt(dst, f.packetID)
	return append(dst, f.body...)
}

// WriteTo writes the serialized frame to w in a single Write call.
func (f *WireFrame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.AppendTo(make([]byte, 0, f.Size())))
	return int64(n), err
}

func (f *WireFrame) String() string {
	if f.compressed {
		return fmt.Sprintf("frame(id=0x%02X len=%d wire=%d data=%d)", f.packetID, f.uncompressedLength, f.wireLength, f.dataLength)
	}
	return fmt.Sprintf("frame(id=0x%02X len=%d)", f.packetID, f.uncompressedLength)
}
