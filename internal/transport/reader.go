package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"mcwire/internal/crypto"
	"mcwire/internal/metrics"
)

// DefaultReadTimeout bounds how long a Reader waits for the next bytes.
const DefaultReadTimeout = 10 * time.Second

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Reader turns a byte stream into frames.
type Reader struct {
	src     io.Reader
	buf     *FrameBuffer
	timeout time.Duration
	log     *slog.Logger
}

// NewReader returns a Reader over src with a buffer sized for the largest frame.
func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, BufferCapacity)
}

// NewReaderSize returns a Reader whose buffer queues hold capacity bytes each.
func NewReaderSize(src io.Reader, capacity int) *Reader {
	return &Reader{
		src:     src,
		buf:     NewFrameBufferSize(capacity),
		timeout: DefaultReadTimeout,
		log:     tlog,
	}
}

// SetTimeout changes the read timeout. Zero disables it. The timeout only
// applies when src supports read deadlines.
func (r *Reader) SetTimeout(d time.Duration) { r.timeout = d }

// SetLogger replaces the logger used for per-frame debug output.
func (r *Reader) SetLogger(l *slog.Logger) { r.log = l }

// EnableDecryption installs the read codec. See FrameBuffer.EnableDecryption.
func (r *Reader) EnableDecryption(codec *crypto.Codec) { r.buf.EnableDecryption(codec) }

// EnableDecompression makes subsequent frames expect the compression envelope.
func (r *Reader) EnableDecompression() { r.buf.EnableDecompression() }

// NextFrame returns the next frame: packet id followed by body, with any
// compression envelope removed. Every error is fatal for the stream.
func (r *Reader) NextFrame(ctx context.Context) ([]byte, error) {
	for {
		state, err := r.buf.Poll()
		switch state {
		case PacketReady:
			frame, err := r.buf.TakeFrame()
			if err != nil {
				metrics.TransportError(errorKind(err))
				return nil, err
			}
			metrics.FrameRead()
			r.log.Debug("frame read", "len", len(frame))
			return frame, nil
		case BufferError:
			metrics.TransportError(errorKind(err))
			return nil, err
		}
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// fill performs one read from src, bounded by the timeout and by ctx.
func (r *Reader) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := r.src.(readDeadliner); ok {
		deadline := time.Time{}
		if r.timeout > 0 {
			deadline = time.Now().Add(r.timeout)
		}
		if err := d.SetReadDeadline(deadline); err != nil {
			if isClosed(err) {
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return fmt.Errorf("set read deadline: %w", err)
		}
		// Cancelling ctx unblocks the pending read.
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetReadDeadline(time.Now())
		})
		defer stop()
	}

	n, err := r.buf.Fill(r.src)
	metrics.BytesRead(n)
	if n > 0 || err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case isTimeout(err):
		metrics.TransportError("timeout")
		return fmt.Errorf("%w: nothing received for %s", ErrTimeout, r.timeout)
	case errors.Is(err, ErrFrameTooLarge):
		metrics.TransportError("frame_too_large")
		return err
	case errors.Is(err, io.EOF):
		if in, dec := r.buf.Len(); in > 0 || dec > 0 {
			return fmt.Errorf("%w: %w", ErrClosed, io.ErrUnexpectedEOF)
		}
		return ErrClosed
	case isClosed(err):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return fmt.Errorf("read: %w", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// errorKind maps a transport error to its metrics label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrMalformedLength):
		return "malformed_length"
	case errors.Is(err, ErrDecompression):
		return "decompression"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
