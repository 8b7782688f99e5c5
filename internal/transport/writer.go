package transport

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"mcwire/internal/crypto"
	"mcwire/internal/metrics"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Writer serializes frames onto a byte stream.
type Writer struct {
	dst     io.Writer
	codec   *crypto.Codec
	timeout time.Duration
	log     *slog.Logger

	compression bool
	threshold   int32
}

// NewWriter returns a Writer with encryption and compression disabled.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{
		dst:     dst,
		timeout: DefaultWriteTimeout,
		log:     tlog,
	}
}

// SetTimeout changes the write timeout. Zero disables it.
func (w *Writer) SetTimeout(d time.Duration) { w.timeout = d }

// SetLogger replaces the logger used for per-frame debug output.
func (w *Writer) SetLogger(l *slog.Logger) { w.log = l }

// EnableEncryption installs the write codec. Every byte written afterwards
// is encrypted.
func (w *Writer) EnableEncryption(codec *crypto.Codec) { w.codec = codec }

// EnableCompression turns on the compression envelope for frames sent
// afterwards. A negative threshold leaves compression off.
func (w *Writer) EnableCompression(threshold int32) {
	if threshold < 0 {
		return
	}
	w.compression = true
	w.threshold = threshold
}

// CompressionThreshold reports the active threshold, or -1 when compression is off.
func (w *Writer) CompressionThreshold() int32 {
	if !w.compression {
		return -1
	}
	return w.threshold
}

// Send compresses f when enabled, serializes it, encrypts the bytes when
// enabled and writes them in one call. f must not be reused afterwards.
// A failed write leaves the stream unusable.
func (w *Writer) Send(f *WireFrame) error {
	if w.compression {
		if err := f.Compress(w.threshold); err != nil {
			return err
		}
	}
	out := f.AppendTo(make([]byte, 0, f.Size()))
	if w.codec != nil {
		w.codec.Encrypt(out)
	}

	if d, ok := w.dst.(writeDeadliner); ok && w.timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := w.dst.Write(out); err != nil {
		if isTimeout(err) {
			metrics.TransportError("timeout")
			return fmt.Errorf("%w: write of %d bytes: %v", ErrTimeout, len(out), err)
		}
		metrics.TransportError("write")
		return fmt.Errorf("write frame: %w", err)
	}

	compressed, dataLength := f.Compressed()
	metrics.FrameWritten(len(out), compressed && dataLength > 0)
	w.log.Debug("frame written", "id", f.PacketID(), "wire_bytes", len(out))
	return nil
}
