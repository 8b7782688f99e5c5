package transport

import "errors"

var (
	// ErrFrameTooLarge means the decode buffer filled up without holding a
	// complete frame. The connection cannot make progress and must close.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMalformedLength means a length prefix can never be valid (negative,
	// or longer than five bytes).
	ErrMalformedLength = errors.New("malformed length prefix")
	// ErrDecompression covers inflate failures and size mismatches. The
	// stream position can no longer be trusted.
	ErrDecompression = errors.New("decompression failure")
	// ErrTimeout means no bytes arrived within the read timeout.
	ErrTimeout = errors.New("transport timeout")
	// ErrClosed means the peer closed the stream.
	ErrClosed = errors.New("transport closed")
)
