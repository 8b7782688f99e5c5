package transport_test

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"mcwire/internal/crypto"
	"mcwire/internal/transport"
	"mcwire/internal/wire"
)

var testSecret = []byte("0123456789abcdef")

func mustFrame(t *testing.T, id int32, body []byte) []byte {
	t.Helper()
	f, err := transport.NewWireFrame(id, body)
	if err != nil {
		t.Fatal(err)
	}
	return f.AppendTo(nil)
}

func TestFrameBufferByteAtATime(t *testing.T) {
	raw := mustFrame(t, 0x03, []byte("one byte at a time"))
	fb := transport.NewFrameBuffer()

	ready := 0
	for i, c := range raw {
		if _, err := fb.Write([]byte{c}); err != nil {
			t.Fatal(err)
		}
		state, err := fb.Poll()
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if state == transport.PacketReady {
			ready++
			if i != len(raw)-1 {
				t.Fatalf("packet ready after %d of %d bytes", i+1, len(raw))
			}
		}
	}
	if ready != 1 {
		t.Fatalf("saw %d packet-ready transitions, want 1", ready)
	}
	frame, err := fb.TakeFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame, raw[1:]) {
		t.Fatalf("frame = % X, want % X", frame, raw[1:])
	}
	if in, dec := fb.Len(); in != 0 || dec != 0 {
		t.Fatalf("buffer not drained: ingress=%d decoded=%d", in, dec)
	}
}

func TestFrameBufferSeveralFramesInOneWrite(t *testing.T) {
	var raw []byte
	for i := 0; i < 5; i++ {
		raw = append(raw, mustFrame(t, int32(i), bytes.Repeat([]byte{byte(i)}, i*10))...)
	}
	fb := transport.NewFrameBuffer()
	if _, err := fb.Write(raw); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		state, err := fb.Poll()
		if state != transport.PacketReady {
			t.Fatalf("frame %d: poll = %v, %v", i, state, err)
		}
		frame, err := fb.TakeFrame()
		if err != nil {
			t.Fatal(err)
		}
		if frame[0] != byte(i) || len(frame) != 1+i*10 {
			t.Fatalf("frame %d: got id %d len %d", i, frame[0], len(frame))
		}
	}
	if state, _ := fb.Poll(); state != transport.Waiting {
		t.Fatalf("drained buffer polls %v, want waiting", state)
	}
}

func TestFrameBufferErrors(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		input    []byte
		want     error
	}{
		{"declared length exceeds capacity", 16, []byte{0x64}, transport.ErrFrameTooLarge},
		{"length prefix fills buffer", 4, []byte{0x80, 0x80, 0x80, 0x80}, transport.ErrFrameTooLarge},
		{"varint longer than five bytes", 16, []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, transport.ErrMalformedLength},
		{"negative length", 16, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, transport.ErrMalformedLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := transport.NewFrameBufferSize(tt.capacity)
			if _, err := fb.Write(tt.input); err != nil {
				t.Fatal(err)
			}
			state, err := fb.Poll()
			if state != transport.BufferError || !errors.Is(err, tt.want) {
				t.Fatalf("poll = %v, %v; want error %v", state, err, tt.want)
			}
		})
	}
}

func TestFrameBufferTruncatedPrefixWaits(t *testing.T) {
	fb := transport.NewFrameBufferSize(16)
	fb.Write([]byte{0x80, 0x80})
	if state, err := fb.Poll(); state != transport.Waiting || err != nil {
		t.Fatalf("poll = %v, %v; want waiting", state, err)
	}
}

func TestFrameBufferCapacityBound(t *testing.T) {
	const capacity = 32
	fb := transport.NewFrameBufferSize(capacity)
	// A frame that fits the declared limit but never completes.
	raw := mustFrame(t, 0x01, make([]byte, capacity-2))
	if len(raw) != capacity {
		t.Fatalf("test frame is %d bytes, want %d", len(raw), capacity)
	}
	if _, err := fb.Write(raw[:capacity-1]); err != nil {
		t.Fatal(err)
	}
	if state, err := fb.Poll(); state != transport.Waiting {
		t.Fatalf("poll = %v, %v; want waiting", state, err)
	}

	over := transport.NewFrameBufferSize(capacity)
	n, err := over.Write(make([]byte, capacity+8))
	if !errors.Is(err, io.ErrShortWrite) || n != capacity {
		t.Fatalf("Write = %d, %v; want %d, ErrShortWrite", n, err, capacity)
	}
}

func TestFrameBufferFillFromReader(t *testing.T) {
	raw := append(mustFrame(t, 0x01, []byte("first")), mustFrame(t, 0x02, []byte("second"))...)
	r := iotest.OneByteReader(bytes.NewReader(raw))
	fb := transport.NewFrameBuffer()

	var frames [][]byte
	for len(frames) < 2 {
		state, err := fb.Poll()
		switch state {
		case transport.PacketReady:
			frame, err := fb.TakeFrame()
			if err != nil {
				t.Fatal(err)
			}
			frames = append(frames, frame)
			continue
		case transport.BufferError:
			t.Fatal(err)
		}
		if _, err := fb.Fill(r); err != nil {
			t.Fatal(err)
		}
	}
	if string(frames[0][1:]) != "first" || string(frames[1][1:]) != "second" {
		t.Fatalf("frames = %q", frames)
	}
}

func TestFrameBufferDecryptsChunkedStream(t *testing.T) {
	_, write, err := crypto.NewCodecs(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	read, _, err := crypto.NewCodecs(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	var raw []byte
	for i := 0; i < 3; i++ {
		raw = append(raw, mustFrame(t, int32(i), bytes.Repeat([]byte("enc"), 50*i))...)
	}
	want := bytes.Clone(raw)
	write.Encrypt(raw)

	fb := transport.NewFrameBuffer()
	fb.EnableDecryption(read)
	var got []byte
	for len(raw) > 0 {
		n := min(7, len(raw))
		fb.Write(raw[:n])
		raw = raw[n:]
		for {
			state, err := fb.Poll()
			if state == transport.BufferError {
				t.Fatal(err)
			}
			if state != transport.PacketReady {
				break
			}
			frame, err := fb.TakeFrame()
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, wire.AppendVarInt(nil, int32(len(frame)))...)
			got = append(got, frame...)
		}
	}
	if !bytes.Equal(got, want) {
		t.Fatal("decrypted frames do not match the plaintext stream")
	}
}

func TestFrameBufferEnableDecryptionMidStream(t *testing.T) {
	plain := mustFrame(t, 0x01, []byte("last plaintext frame"))
	secret := mustFrame(t, 0x02, []byte("first encrypted frame"))
	_, write, err := crypto.NewCodecs(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	read, _, err := crypto.NewCodecs(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	enc := bytes.Clone(secret)
	write.Encrypt(enc)

	fb := transport.NewFrameBuffer()
	fb.Write(append(bytes.Clone(plain), enc...))
	if state, err := fb.Poll(); state != transport.PacketReady {
		t.Fatalf("poll = %v, %v", state, err)
	}
	if _, err := fb.TakeFrame(); err != nil {
		t.Fatal(err)
	}
	fb.EnableDecryption(read)
	if state, err := fb.Poll(); state != transport.PacketReady {
		t.Fatalf("poll after enabling decryption = %v, %v", state, err)
	}
	frame, err := fb.TakeFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame, secret[1:]) {
		t.Fatalf("frame = %q, want %q", frame, secret[1:])
	}
}

func TestFrameBufferDecompressionErrors(t *testing.T) {
	deflate := func(p []byte) []byte {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		zw.Write(p)
		zw.Close()
		return buf.Bytes()
	}
	envelope := func(dataLength int32, payload []byte) []byte {
		inner := append(wire.AppendVarInt(nil, dataLength), payload...)
		return append(wire.AppendVarInt(nil, int32(len(inner))), inner...)
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"size mismatch", envelope(50, deflate(make([]byte, 40)))},
		{"longer than declared", envelope(10, deflate(make([]byte, 40)))},
		{"not zlib", envelope(10, []byte("definitely not deflate"))},
		{"data length too large", envelope(transport.MaxDataLength+1, deflate([]byte{1}))},
		{"negative data length", envelope(-5, deflate([]byte{1}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := transport.NewFrameBuffer()
			fb.EnableDecompression()
			fb.Write(tt.raw)
			if state, err := fb.Poll(); state != transport.PacketReady {
				t.Fatalf("poll = %v, %v", state, err)
			}
			if _, err := fb.TakeFrame(); !errors.Is(err, transport.ErrDecompression) {
				t.Fatalf("got %v, want ErrDecompression", err)
			}
		})
	}
}

func TestBufferStateString(t *testing.T) {
	if transport.PacketReady.String() != "packet-ready" {
		t.Fatal(transport.PacketReady.String())
	}
	if transport.BufferState(9).String() != "BufferState(9)" {
		t.Fatal(transport.BufferState(9).String())
	}
}
